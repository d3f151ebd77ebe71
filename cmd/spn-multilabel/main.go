package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"spn-multilabel/internal/config"
	"spn-multilabel/internal/dataset"
	"spn-multilabel/internal/trainer"
)

type cliFlags struct {
	config       string
	exportShards string
	shardSize    int
	overrides    config.Overrides
}

// parseFlags registers the flags on fs and parses args. Only flags that were
// given on the command line end up in the overrides, so explicit zeros such
// as -seed 0 still replace a config file value.
func parseFlags(fs *flag.FlagSet, args []string) (*cliFlags, error) {
	var (
		f   cliFlags
		o   config.Overrides
		def = config.Default()
	)
	fs.StringVar(&f.config, "config", "", "Path to YAML config")
	fs.StringVar(&f.exportShards, "export-shards", "", "Write the generated canvases as shards to this directory and exit")
	fs.IntVar(&f.shardSize, "shard-size", 1000, "Samples per exported shard")

	net := fs.String("net", def.Net, "Architecture tag (spn, mlp)")
	task := fs.String("task", def.Task, "multilabel or single")
	nLabels := fs.Int("n-labels", def.NLabels, "Number of labels; digits are sampled from [0, n_labels)")
	canvasSize := fs.Int("canvas-size", def.CanvasSize, "Canvas size")
	nDigits := fs.Int("n-digits", def.NDigits, "Maximum number of digits per canvas")
	lr := fs.Float64("lr", def.LR, "Learning rate")
	optimizer := fs.String("optimizer", def.Optimizer, "Optimizer (adam, sgd)")
	epochs := fs.Int("epochs", def.Epochs, "Number of epochs")
	batchSize := fs.Int("batch-size", def.BatchSize, "Training batch size")
	testBatchSize := fs.Int("test-batch-size", def.TestBatchSize, "Evaluation batch size")
	seed := fs.Int64("seed", def.Seed, "PRNG seed")
	cuda := fs.Bool("cuda", def.CUDA, "Run on the accelerator if available")
	cudaDeviceID := fs.Int("cuda-device-id", def.CUDADeviceID, "Accelerator device id")
	logInterval := fs.Int("log-interval", def.LogInterval, "Log every N batches")
	numWorkers := fs.Int("num-workers", def.NumWorkers, "Number of data loader workers")
	trainSamples := fs.Int("train-samples", def.TrainSamples, "Number of generated training canvases")
	testSamples := fs.Int("test-samples", def.TestSamples, "Number of generated test canvases")
	trainSubset := fs.Int("train-subset", def.TrainSubset, "Train on a random subset of this size")
	components := fs.Int("components", def.Components, "Leaf components of the spn architecture")
	hidden := fs.Int("hidden", def.Hidden, "Hidden units of the mlp architecture")
	clipMargin := fs.Float64("clip-margin", def.ClipMargin, "Distance kept from the parameter bounds (0 selects the default)")
	mnistDir := fs.String("mnist-dir", def.MNISTDir, "Directory with the gzipped MNIST IDX files (default: embedded MNIST)")
	shardDir := fs.String("shard-dir", def.ShardDir, "Directory with train/ and test/ canvas shards")
	resultDir := fs.String("result-dir", def.ResultDir, "Directory runs are stored under")
	experimentName := fs.String("experiment-name", def.ExperimentName, "Run directory suffix")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "net":
			o.Net = net
		case "task":
			o.Task = task
		case "n-labels":
			o.NLabels = nLabels
		case "canvas-size":
			o.CanvasSize = canvasSize
		case "n-digits":
			o.NDigits = nDigits
		case "lr":
			o.LR = lr
		case "optimizer":
			o.Optimizer = optimizer
		case "epochs":
			o.Epochs = epochs
		case "batch-size":
			o.BatchSize = batchSize
		case "test-batch-size":
			o.TestBatchSize = testBatchSize
		case "seed":
			o.Seed = seed
		case "cuda":
			o.CUDA = cuda
		case "cuda-device-id":
			o.CUDADeviceID = cudaDeviceID
		case "log-interval":
			o.LogInterval = logInterval
		case "num-workers":
			o.NumWorkers = numWorkers
		case "train-samples":
			o.TrainSamples = trainSamples
		case "test-samples":
			o.TestSamples = testSamples
		case "train-subset":
			o.TrainSubset = trainSubset
		case "components":
			o.Components = components
		case "hidden":
			o.Hidden = hidden
		case "clip-margin":
			o.ClipMargin = clipMargin
		case "mnist-dir":
			o.MNISTDir = mnistDir
		case "shard-dir":
			o.ShardDir = shardDir
		case "result-dir":
			o.ResultDir = resultDir
		case "experiment-name":
			o.ExperimentName = experimentName
		}
	})
	f.overrides = o
	return &f, nil
}

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatalf("failed to parse flags: %v", err)
	}

	cfg, err := config.Load(flags.config)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(flags.overrides)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.exportShards != "" {
		if err := export(ctx, cfg, flags.exportShards, flags.shardSize, logger); err != nil {
			logger.Fatalf("export failed: %v", err)
		}
		return
	}

	runDir := cfg.RunDir(time.Now())
	logger.Printf("run dir=%s", runDir)
	if _, err := trainer.Run(ctx, cfg, runDir, logger); err != nil {
		logger.Fatalf("training failed: %v", err)
	}
}

func export(ctx context.Context, cfg *config.Config, dir string, perShard int, logger *log.Logger) error {
	if cfg.ShardDir != "" {
		logger.Printf("ignoring shard_dir=%s while exporting", cfg.ShardDir)
		cfg.ShardDir = ""
	}
	train, test, err := dataset.Load(ctx, dataset.Options{
		NLabels:      cfg.NLabels,
		NDigits:      cfg.NDigits,
		CanvasSize:   cfg.CanvasSize,
		TrainSamples: cfg.TrainSamples,
		TestSamples:  cfg.TestSamples,
		BatchSize:    cfg.BatchSize,
		NumWorkers:   cfg.NumWorkers,
		Seed:         cfg.Seed,
		MNISTDir:     cfg.MNISTDir,
	}, logger)
	if err != nil {
		return err
	}
	for split, loader := range map[string]*dataset.Loader{"train": train, "test": test} {
		paths, err := dataset.ExportShards(filepath.Join(dir, split), loader.Dataset, cfg.CanvasSize, perShard)
		if err != nil {
			return err
		}
		logger.Printf("split=%s samples=%d shards=%d", split, loader.Dataset.Len(), len(paths))
	}
	return nil
}
