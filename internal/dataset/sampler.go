package dataset

import (
	"fmt"
	"math/rand"
)

// Sampler decides which dataset indices a loader yields and in which order.
type Sampler interface {
	// Indices must be a pure function of epoch.
	Indices(epoch int) []int
	Len() int
}

// Sequential yields 0..n-1 in order.
type Sequential struct {
	n int
}

func NewSequential(n int) Sequential { return Sequential{n: n} }

func (s Sequential) Indices(int) []int {
	out := make([]int, s.n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s Sequential) Len() int { return s.n }

// SubsetRandom yields a fixed random subset of the dataset, reshuffled per epoch.
type SubsetRandom struct {
	subset []int
	seed   int64
}

// NewSubsetRandom draws size distinct indices out of [0, datasetLen).
func NewSubsetRandom(datasetLen, size int, seed int64) (*SubsetRandom, error) {
	if size <= 0 || size > datasetLen {
		return nil, fmt.Errorf("dataset: subset size %d outside (0, %d]", size, datasetLen)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(datasetLen)
	return &SubsetRandom{subset: perm[:size], seed: seed}, nil
}

func (s *SubsetRandom) Indices(epoch int) []int {
	out := append([]int(nil), s.subset...)
	rng := rand.New(rand.NewSource(s.seed + int64(epoch)))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (s *SubsetRandom) Len() int { return len(s.subset) }
