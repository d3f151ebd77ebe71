package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrInputShape is returned when a batch does not match the model input width.
var ErrInputShape = errors.New("model: input shape mismatch")

// Kind classifies a parameter for the post-step clipping policies.
type Kind int

const (
	// Dense parameters are unconstrained.
	Dense Kind = iota
	// Distribution parameters are probabilities of leaf distributions.
	Distribution
	// SumWeight parameters are mixture weights; each row is one convex combination.
	SumWeight
)

func (k Kind) String() string {
	switch k {
	case Dense:
		return "dense"
	case Distribution:
		return "distribution"
	case SumWeight:
		return "sum_weight"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Parameter is a named learnable tensor with its gradient.
type Parameter struct {
	Name  string
	Kind  Kind
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(name string, kind Kind, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Kind:  kind,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Data exposes the row-major backing slice of the parameter values.
func (p *Parameter) Data() []float64 {
	return p.Value.RawMatrix().Data
}

// Size returns the number of scalar entries.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Layer is one differentiable stage of a network.
//
// Forward caches whatever Backward needs only when train is true, so
// inference passes leave the layer untouched. Backward accumulates parameter
// gradients and returns the gradient with respect to the layer input.
type Layer interface {
	Forward(x *mat.Dense, train bool) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Parameters() []*Parameter
}

// Model is the network surface the trainer drives.
type Model interface {
	Forward(x *mat.Dense, train bool) (*mat.Dense, error)
	Backward(grad *mat.Dense) error
	Parameters() []*Parameter
	Modules() []Layer
	ZeroGrad()
}

// Sequential chains layers.
type Sequential struct {
	inputs  int
	outputs int
	layers  []Layer
}

// NewSequential builds a network mapping inputs columns to outputs columns.
func NewSequential(inputs, outputs int, layers ...Layer) *Sequential {
	return &Sequential{inputs: inputs, outputs: outputs, layers: layers}
}

// Forward runs x through every layer.
func (s *Sequential) Forward(x *mat.Dense, train bool) (*mat.Dense, error) {
	if _, c := x.Dims(); c != s.inputs {
		return nil, fmt.Errorf("%w: got %d columns, want %d", ErrInputShape, c, s.inputs)
	}
	out := x
	for _, l := range s.layers {
		out = l.Forward(out, train)
	}
	return out, nil
}

// Backward propagates grad (same shape as the last output) through the chain.
func (s *Sequential) Backward(grad *mat.Dense) error {
	if _, c := grad.Dims(); c != s.outputs {
		return fmt.Errorf("%w: gradient has %d columns, want %d", ErrInputShape, c, s.outputs)
	}
	g := grad
	for i := len(s.layers) - 1; i >= 0; i-- {
		g = s.layers[i].Backward(g)
	}
	return nil
}

// Parameters returns every learnable tensor in layer order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range s.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Modules returns the layers in order.
func (s *Sequential) Modules() []Layer {
	return s.layers
}

// ZeroGrad clears all accumulated gradients.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Parameters() {
		p.Grad.Zero()
	}
}

// Inputs is the expected input width.
func (s *Sequential) Inputs() int { return s.inputs }

// Outputs is the number of output columns.
func (s *Sequential) Outputs() int { return s.outputs }

// CountParams sums the scalar entries of all parameters.
func CountParams(m Model) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Size()
	}
	return n
}
