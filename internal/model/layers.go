package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = x·Wᵀ + b.
type Linear struct {
	Weight *Parameter
	Bias   *Parameter
	x      *mat.Dense
}

// NewLinear initialises weights uniformly in ±1/sqrt(in).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		Weight: newParameter(name+".weight", Dense, out, in),
		Bias:   newParameter(name+".bias", Dense, 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for i := range l.Weight.Data() {
		l.Weight.Data()[i] = (rng.Float64()*2 - 1) * bound
	}
	for i := range l.Bias.Data() {
		l.Bias.Data()[i] = (rng.Float64()*2 - 1) * bound
	}
	return l
}

func (l *Linear) Forward(x *mat.Dense, train bool) *mat.Dense {
	var y mat.Dense
	y.Mul(x, l.Weight.Value.T())
	bias := l.Bias.Data()
	y.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, &y)
	if train {
		l.x = x
	}
	return &y
}

func (l *Linear) Backward(grad *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(grad.T(), l.x)
	l.Weight.Grad.Add(l.Weight.Grad, &dw)
	addColumnSums(l.Bias.Grad.RawMatrix().Data, grad)

	var dx mat.Dense
	dx.Mul(grad, l.Weight.Value)
	return &dx
}

func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Sigmoid squashes every element into (0, 1).
type Sigmoid struct {
	y *mat.Dense
}

func (s *Sigmoid) Forward(x *mat.Dense, train bool) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, x)
	if train {
		s.y = &y
	}
	return &y
}

func (s *Sigmoid) Backward(grad *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		y := s.y.At(i, j)
		return g * y * (1 - y)
	}, grad)
	return &dx
}

func (s *Sigmoid) Parameters() []*Parameter { return nil }

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

func addColumnSums(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			dst[j] += v
		}
	}
}
