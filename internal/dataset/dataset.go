package dataset

import (
	"errors"
	"fmt"
)

// ErrIndex is returned for an out-of-range sample index.
var ErrIndex = errors.New("dataset: index out of range")

// Sample is one canvas with its multi-hot target.
type Sample struct {
	Key    string
	Image  []float64
	Target []float64
}

// Dataset is random-access storage of equally shaped samples.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
	// Dims returns the input width and the target width.
	Dims() (inputs, outputs int)
}

// Memory is a Dataset held entirely in memory.
type Memory struct {
	samples []Sample
	inputs  int
	outputs int
}

// NewMemory validates that every sample has the given widths.
func NewMemory(samples []Sample, inputs, outputs int) (*Memory, error) {
	for i, s := range samples {
		if len(s.Image) != inputs || len(s.Target) != outputs {
			return nil, fmt.Errorf("dataset: sample %d (%s) has shape %d/%d, want %d/%d",
				i, s.Key, len(s.Image), len(s.Target), inputs, outputs)
		}
	}
	return &Memory{samples: samples, inputs: inputs, outputs: outputs}, nil
}

func (m *Memory) Len() int { return len(m.samples) }

func (m *Memory) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(m.samples) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(m.samples))
	}
	return m.samples[i], nil
}

func (m *Memory) Dims() (int, int) { return m.inputs, m.outputs }
