package trainer

import (
	"context"
	"fmt"
	"time"

	"spn-multilabel/internal/dataset"
	"spn-multilabel/internal/metrics"
)

// TrainEpoch runs Step over every batch of loader in order, logging progress
// every LogInterval batches, and normalises sum weights once at the end.
// It returns the mean of the per-batch losses.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *dataset.Loader, epoch int) (float64, error) {
	interval := t.LogInterval
	if interval <= 0 {
		interval = 10
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader.SetEpoch(epoch)
	total := loader.NumSamples()
	numBatches := loader.NumBatches()

	var window metrics.Window
	start := time.Now()
	batchIdx, processed := 0, 0
	lossSum := 0.0

	batches, errs := loader.Batches(ctx)
	startData := time.Now()
	for b := range batches {
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := t.Step(b)
		if err != nil {
			return 0, fmt.Errorf("epoch %d batch %d: %w", epoch, batchIdx, err)
		}
		window.Record(b.Size(), dataTime, time.Since(startCompute), loss)
		lossSum += loss

		if batchIdx%interval == 0 {
			snap := window.Snapshot()
			t.Logger.Printf("Train Epoch: %d [%5d/%-5d (%.0f%%)]\tLoss: %.6f\tsamples_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
				epoch,
				processed,
				total,
				100*float64(batchIdx)/float64(numBatches),
				loss,
				snap.SamplesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
			)
		}
		processed += b.Size()
		batchIdx++
		startData = time.Now()
	}
	if err := <-errs; err != nil {
		return 0, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	if batchIdx == 0 {
		return 0, fmt.Errorf("epoch %d: loader yielded no batches", epoch)
	}

	if err := t.Clipper.Normalize(t.Model.Parameters()); err != nil {
		return 0, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	t.Logger.Printf("Train Epoch: %d took %s", epoch, time.Since(start).Round(time.Millisecond))
	return lossSum / float64(batchIdx), nil
}
