package model

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrUnknownTag is returned for an unregistered architecture tag.
var ErrUnknownTag = errors.New("model: unknown architecture tag")

// Spec sizes a network.
type Spec struct {
	Inputs     int
	Outputs    int
	Components int
	Hidden     int
	Seed       int64
}

type builder func(spec Spec, rng *rand.Rand) *Sequential

var registry = map[string]builder{
	// Bernoulli leaves -> batch norm -> sigmoid gates -> one sum node per label.
	"spn": func(spec Spec, rng *rand.Rand) *Sequential {
		return NewSequential(spec.Inputs, spec.Outputs,
			NewBernoulliLeaf("leaf", spec.Inputs, spec.Components, rng),
			NewBatchNorm("norm", spec.Components),
			&Sigmoid{},
			NewSumLayer("root", spec.Components, spec.Outputs, rng),
		)
	},
	"mlp": func(spec Spec, rng *rand.Rand) *Sequential {
		return NewSequential(spec.Inputs, spec.Outputs,
			NewLinear("fc1", spec.Inputs, spec.Hidden, rng),
			NewBatchNorm("bn1", spec.Hidden),
			&Sigmoid{},
			NewLinear("fc2", spec.Hidden, spec.Outputs, rng),
			&Sigmoid{},
		)
	},
}

// New builds the network registered under tag.
func New(tag string, spec Spec) (*Sequential, error) {
	build, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownTag, tag, Tags())
	}
	if spec.Inputs <= 0 || spec.Outputs <= 0 {
		return nil, fmt.Errorf("model: inputs and outputs must be > 0 (got %d, %d)", spec.Inputs, spec.Outputs)
	}
	if spec.Components <= 0 {
		spec.Components = 32
	}
	if spec.Hidden <= 0 {
		spec.Hidden = 64
	}
	return build(spec, rand.New(rand.NewSource(spec.Seed))), nil
}

// Tags lists the registered architecture tags.
func Tags() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
