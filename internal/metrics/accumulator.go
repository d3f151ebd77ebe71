package metrics

import (
	"errors"
	"fmt"
)

// ErrNoSamples is returned when an average is requested over zero samples.
var ErrNoSamples = errors.New("metrics: no samples to average over")

// Accumulator reduces per-batch summed losses and correct counts into
// epoch-level figures.
type Accumulator struct {
	loss    float64
	correct int
	seen    int
}

// Add records one batch: its summed loss, correct predictions and row count.
func (a *Accumulator) Add(loss float64, correct, rows int) {
	a.loss += loss
	a.correct += correct
	a.seen += rows
}

// Seen is the number of rows added so far.
func (a *Accumulator) Seen() int { return a.seen }

// Result divides by samples*units, where samples is the number of samples the
// loader yields (the sampler length when one is configured) and units the
// number of predictions per sample. Accuracy is a percentage.
func (a *Accumulator) Result(samples, units int) (loss, accuracy float64, err error) {
	if units <= 0 {
		units = 1
	}
	n := samples * units
	if n <= 0 {
		return 0, 0, ErrNoSamples
	}
	if a.seen != samples {
		return 0, 0, fmt.Errorf("metrics: accumulated %d samples, loader reports %d", a.seen, samples)
	}
	return a.loss / float64(n), 100 * float64(a.correct) / float64(n), nil
}
