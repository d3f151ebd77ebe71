package trainer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when model output and target disagree in shape.
var ErrShapeMismatch = errors.New("trainer: output/target shape mismatch")

// logFloor matches the usual BCE clamp of log terms at -100.
const logFloor = -100

// Objective scores model outputs against targets.
type Objective interface {
	// Loss is summed over every sample and output column.
	Loss(out, target *mat.Dense) float64
	// Grad is the derivative of Loss with respect to out.
	Grad(out, target *mat.Dense) *mat.Dense
	Correct(out, target *mat.Dense) int
	// Units is the number of scored predictions per sample.
	Units() int
}

// NewObjective returns the objective for task "multilabel" or "single".
func NewObjective(task string, labels int) (Objective, error) {
	switch task {
	case "", "multilabel":
		return Multilabel{Labels: labels}, nil
	case "single":
		return SingleLabel{}, nil
	default:
		return nil, fmt.Errorf("trainer: unknown task %q", task)
	}
}

func checkShapes(out, target *mat.Dense) error {
	or, oc := out.Dims()
	tr, tc := target.Dims()
	if or != tr || oc != tc {
		return fmt.Errorf("%w: output %dx%d, target %dx%d", ErrShapeMismatch, or, oc, tr, tc)
	}
	return nil
}

// Multilabel is binary cross-entropy per label with a 0.5 decision threshold.
type Multilabel struct {
	Labels int
}

func (m Multilabel) Loss(out, target *mat.Dense) float64 {
	o, t := out.RawMatrix().Data, target.RawMatrix().Data
	total := 0.0
	for i, s := range o {
		total -= t[i]*math.Max(math.Log(s), logFloor) + (1-t[i])*math.Max(math.Log1p(-s), logFloor)
	}
	return total
}

func (m Multilabel) Grad(out, target *mat.Dense) *mat.Dense {
	var g mat.Dense
	g.Apply(func(i, j int, s float64) float64 {
		return (s - target.At(i, j)) / math.Max(s*(1-s), 1e-12)
	}, out)
	return &g
}

func (m Multilabel) Correct(out, target *mat.Dense) int {
	o, t := out.RawMatrix().Data, target.RawMatrix().Data
	n := 0
	for i, s := range o {
		if (s > 0.5) == (t[i] > 0.5) {
			n++
		}
	}
	return n
}

func (m Multilabel) Units() int { return m.Labels }

// SingleLabel is the negative log-likelihood of the arg-max target label.
type SingleLabel struct{}

func (SingleLabel) Loss(out, target *mat.Dense) float64 {
	rows, _ := out.Dims()
	total := 0.0
	for i := 0; i < rows; i++ {
		y := floats.MaxIdx(target.RawRowView(i))
		total -= math.Max(math.Log(out.At(i, y)), logFloor)
	}
	return total
}

func (SingleLabel) Grad(out, target *mat.Dense) *mat.Dense {
	rows, cols := out.Dims()
	g := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		y := floats.MaxIdx(target.RawRowView(i))
		g.Set(i, y, -1/math.Max(out.At(i, y), 1e-12))
	}
	return g
}

func (SingleLabel) Correct(out, target *mat.Dense) int {
	rows, _ := out.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		if floats.MaxIdx(out.RawRowView(i)) == floats.MaxIdx(target.RawRowView(i)) {
			n++
		}
	}
	return n
}

func (SingleLabel) Units() int { return 1 }
