package dataset

import (
	"context"
	"fmt"
	"log"
)

// Options configures the multilabel MNIST loaders.
type Options struct {
	NLabels       int
	NDigits       int
	CanvasSize    int
	TrainSamples  int
	TestSamples   int
	TrainSubset   int
	BatchSize     int
	TestBatchSize int
	NumWorkers    int
	Seed          int64
	// MNISTDir holds the gzipped IDX files; empty selects the embedded MNIST set.
	MNISTDir string
	// ShardDir holds pre-rendered train/ and test/ shards and wins over MNISTDir.
	ShardDir string
}

// Load builds the train and test loaders. When TrainSubset is set the train
// loader draws a random subset of that size through a sampler.
func Load(ctx context.Context, opts Options, logger *log.Logger) (train, test *Loader, err error) {
	trainSet, testSet, err := buildSplits(ctx, opts, logger)
	if err != nil {
		return nil, nil, err
	}

	train = &Loader{Dataset: trainSet, BatchSize: opts.BatchSize, NumWorkers: opts.NumWorkers}
	if opts.TrainSubset > 0 {
		sampler, err := NewSubsetRandom(trainSet.Len(), opts.TrainSubset, opts.Seed)
		if err != nil {
			return nil, nil, err
		}
		train.Sampler = sampler
	}
	testBatch := opts.TestBatchSize
	if testBatch <= 0 {
		testBatch = opts.BatchSize
	}
	test = &Loader{Dataset: testSet, BatchSize: testBatch, NumWorkers: opts.NumWorkers}

	logger.Printf("dataset train=%d (sampled %d) test=%d canvas=%dx%d labels=%d",
		trainSet.Len(), train.NumSamples(), testSet.Len(), opts.CanvasSize, opts.CanvasSize, opts.NLabels)
	return train, test, nil
}

func buildSplits(ctx context.Context, opts Options, logger *log.Logger) (Dataset, Dataset, error) {
	if opts.ShardDir != "" {
		trainPaths, testPaths, err := DiscoverSplits(opts.ShardDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("shards root=%s train=%d test=%d", opts.ShardDir, len(trainPaths), len(testPaths))
		trainSet, err := LoadShards(ctx, trainPaths, opts.NLabels, opts.CanvasSize)
		if err != nil {
			return nil, nil, fmt.Errorf("load train shards: %w", err)
		}
		testSet, err := LoadShards(ctx, testPaths, opts.NLabels, opts.CanvasSize)
		if err != nil {
			return nil, nil, fmt.Errorf("load test shards: %w", err)
		}
		return trainSet, testSet, nil
	}

	trainSrc, testSrc, err := digitSources(opts, logger)
	if err != nil {
		return nil, nil, err
	}
	multi := MultiOptions{NLabels: opts.NLabels, NDigits: opts.NDigits, CanvasSize: opts.CanvasSize}

	multi.Samples, multi.Seed, multi.Prefix = opts.TrainSamples, opts.Seed, "train-"
	trainSet, err := NewMultiMNIST(trainSrc, multi)
	if err != nil {
		return nil, nil, fmt.Errorf("build train split: %w", err)
	}
	multi.Samples, multi.Seed, multi.Prefix = opts.TestSamples, opts.Seed+1, "test-"
	testSet, err := NewMultiMNIST(testSrc, multi)
	if err != nil {
		return nil, nil, fmt.Errorf("build test split: %w", err)
	}
	return trainSet, testSet, nil
}

func digitSources(opts Options, logger *log.Logger) (DigitSource, DigitSource, error) {
	if opts.MNISTDir != "" {
		train, err := LoadMNIST(opts.MNISTDir, true)
		if err != nil {
			return nil, nil, err
		}
		test, err := LoadMNIST(opts.MNISTDir, false)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("mnist dir=%s train_digits=%d test_digits=%d", opts.MNISTDir, train.Len(), test.Len())
		return train, test, nil
	}

	train, err := EmbeddedMNIST(true)
	if err != nil {
		return nil, nil, err
	}
	test, err := EmbeddedMNIST(false)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("mnist embedded train_digits=%d test_digits=%d", train.Len(), test.Len())
	return train, test, nil
}
