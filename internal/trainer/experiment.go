package trainer

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"spn-multilabel/internal/clip"
	"spn-multilabel/internal/config"
	"spn-multilabel/internal/dataset"
	"spn-multilabel/internal/device"
	"spn-multilabel/internal/metrics"
	"spn-multilabel/internal/model"
	"spn-multilabel/internal/optim"
	"spn-multilabel/internal/results"
)

// DatasetName keys the results table.
const DatasetName = "mnist"

const (
	lrStepSize = 10
	lrGamma    = 0.5
	// lrWarmEpochs is the number of epochs before the schedule starts stepping,
	// so the first reduction lands on epoch lrWarmEpochs+lrStepSize.
	lrWarmEpochs = 10
)

// Run executes a full experiment and writes its artefacts into runDir.
// Records are persisted only after the last epoch.
func Run(ctx context.Context, cfg *config.Config, runDir string, logger *log.Logger) (records []EpochRecord, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dev, fellBack := device.Select(cfg.CUDA, cfg.CUDADeviceID)
	if fellBack {
		logger.Printf("cuda:%d requested but no accelerator backend is available, using cpu", cfg.CUDADeviceID)
	}
	logger.Printf("Main device: %s", dev.Describe())

	if err := results.SaveArgs(runDir, cfg); err != nil {
		return nil, err
	}

	train, test, err := dataset.Load(ctx, dataset.Options{
		NLabels:       cfg.NLabels,
		NDigits:       cfg.NDigits,
		CanvasSize:    cfg.CanvasSize,
		TrainSamples:  cfg.TrainSamples,
		TestSamples:   cfg.TestSamples,
		TrainSubset:   cfg.TrainSubset,
		BatchSize:     cfg.BatchSize,
		TestBatchSize: cfg.TestBatchSize,
		NumWorkers:    cfg.NumWorkers,
		Seed:          cfg.Seed,
		MNISTDir:      cfg.MNISTDir,
		ShardDir:      cfg.ShardDir,
	}, logger)
	if err != nil {
		return nil, err
	}

	inputs, outputs := train.Dataset.Dims()
	net, err := model.New(cfg.Net, model.Spec{
		Inputs:     inputs,
		Outputs:    outputs,
		Components: cfg.Components,
		Hidden:     cfg.Hidden,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	disableRunningStats(net)
	logger.Printf("Number of parameters: %d", model.CountParams(net))

	opt, err := optim.New(cfg.Optimizer, net.Parameters(), cfg.LR)
	if err != nil {
		return nil, err
	}
	scheduler := optim.NewStepLR(opt, lrStepSize, lrGamma)

	objective, err := NewObjective(cfg.Task, outputs)
	if err != nil {
		return nil, err
	}

	sink, err := metrics.NewFileSink(filepath.Join(runDir, "tb-log"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tr := &Trainer{
		Model:       net,
		Device:      dev,
		Optimizer:   opt,
		Objective:   objective,
		Clipper:     clip.New(dev, cfg.ClipMargin),
		Logger:      logger,
		LogInterval: cfg.LogInterval,
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if epoch > lrWarmEpochs {
			stepSchedule(scheduler, opt, epoch, logger)
		}

		if _, err := tr.TrainEpoch(ctx, train, epoch); err != nil {
			return nil, err
		}
		trainLoss, trainAcc, err := tr.Evaluate(ctx, train, "Train")
		if err != nil {
			return nil, err
		}
		testLoss, testAcc, err := tr.Evaluate(ctx, test, "Test")
		if err != nil {
			return nil, err
		}

		rec := EpochRecord{Epoch: epoch, TrainAcc: trainAcc, TestAcc: testAcc, TrainLoss: trainLoss, TestLoss: testLoss}
		records = append(records, rec)
		if err := collect(sink, net, rec); err != nil {
			return nil, err
		}
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	path, err := results.Store(runDir, DatasetName, Columns, rows)
	if err != nil {
		return nil, err
	}
	logger.Printf("results=%s epochs=%d", path, len(records))
	return records, nil
}

// disableRunningStats makes every batch norm layer use batch statistics in
// inference mode as well.
func disableRunningStats(m model.Model) {
	for _, l := range m.Modules() {
		if bn, ok := l.(*model.BatchNorm); ok {
			bn.TrackRunningStats = false
		}
	}
}

// collect writes the epoch scalars and per-parameter summaries to sink.
func collect(sink metrics.Sink, m model.Model, rec EpochRecord) error {
	scalars := []struct {
		tag   string
		value float64
	}{
		{"accuracy/train", rec.TrainAcc},
		{"accuracy/test", rec.TestAcc},
		{"loss/train", rec.TrainLoss},
		{"loss/test", rec.TestLoss},
	}
	for _, s := range scalars {
		if err := sink.Scalar(s.tag, rec.Epoch, s.value); err != nil {
			return err
		}
	}
	for _, p := range m.Parameters() {
		if p.Size() < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(p.Data(), nil)
		if err := sink.Scalar("params/"+p.Name+"/mean", rec.Epoch, mean); err != nil {
			return err
		}
		if err := sink.Scalar("params/"+p.Name+"/std", rec.Epoch, std); err != nil {
			return err
		}
	}
	return nil
}

// stepSchedule advances the learning-rate schedule and logs the rate used so
// far next to the rate the coming epoch trains with.
func stepSchedule(scheduler *optim.StepLR, opt optim.Optimizer, epoch int, logger *log.Logger) {
	before := opt.LR()
	scheduler.Step()
	logger.Printf("Epoch %d: learning rate schedule step %d, lr=%g -> %g", epoch, scheduler.LastEpoch(), before, opt.LR())
}
