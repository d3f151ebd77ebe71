package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// BernoulliLeaf scores every input against K independent Bernoulli
// components. Output column k is the per-pixel mean log-likelihood
//
//	h_k(x) = 1/D Σ_d x_d·log p_kd + (1-x_d)·log(1-p_kd)
//
// with x in [0, 1] treated as a soft observation.
type BernoulliLeaf struct {
	Probs *Parameter

	x, xc *mat.Dense
}

// NewBernoulliLeaf draws initial probabilities from [0.25, 0.75].
func NewBernoulliLeaf(name string, in, components int, rng *rand.Rand) *BernoulliLeaf {
	l := &BernoulliLeaf{Probs: newParameter(name+".probs", Distribution, components, in)}
	for i := range l.Probs.Data() {
		l.Probs.Data()[i] = 0.25 + rng.Float64()*0.5
	}
	return l
}

func (l *BernoulliLeaf) logs() (*mat.Dense, *mat.Dense) {
	var logP, log1mP mat.Dense
	logP.Apply(func(_, _ int, p float64) float64 { return math.Log(p) }, l.Probs.Value)
	log1mP.Apply(func(_, _ int, p float64) float64 { return math.Log1p(-p) }, l.Probs.Value)
	return &logP, &log1mP
}

func (l *BernoulliLeaf) Forward(x *mat.Dense, train bool) *mat.Dense {
	_, d := x.Dims()
	logP, log1mP := l.logs()

	var xc mat.Dense
	xc.Apply(func(_, _ int, v float64) float64 { return 1 - v }, x)

	var h, neg mat.Dense
	h.Mul(x, logP.T())
	neg.Mul(&xc, log1mP.T())
	h.Add(&h, &neg)
	h.Scale(1/float64(d), &h)

	if train {
		l.x, l.xc = x, &xc
	}
	return &h
}

func (l *BernoulliLeaf) Backward(grad *mat.Dense) *mat.Dense {
	_, d := l.x.Dims()
	var g mat.Dense
	g.Scale(1/float64(d), grad)

	var dA, dB mat.Dense
	dA.Mul(g.T(), l.x)
	dB.Mul(g.T(), l.xc)

	p := l.Probs.Value
	var dP mat.Dense
	dP.Apply(func(i, j int, a float64) float64 {
		pv := p.At(i, j)
		return a/pv - dB.At(i, j)/(1-pv)
	}, &dA)
	l.Probs.Grad.Add(l.Probs.Grad, &dP)

	logP, log1mP := l.logs()
	var ratio, dx mat.Dense
	ratio.Sub(logP, log1mP)
	dx.Mul(&g, &ratio)
	return &dx
}

func (l *BernoulliLeaf) Parameters() []*Parameter {
	return []*Parameter{l.Probs}
}

// SumLayer is a layer of sum nodes: output c is the convex combination of
// the inputs weighted by row c of Weights. Rows are divided by their sum in
// the forward pass, so the layer is invariant to per-row rescaling.
type SumLayer struct {
	Weights *Parameter

	x, y *mat.Dense
	sums []float64
}

// NewSumLayer draws positive random weights and normalises every row.
func NewSumLayer(name string, in, out int, rng *rand.Rand) *SumLayer {
	s := &SumLayer{Weights: newParameter(name+".weights", SumWeight, out, in)}
	for c := 0; c < out; c++ {
		row := s.Weights.Value.RawRowView(c)
		total := 0.0
		for k := range row {
			row[k] = 0.5 + rng.Float64()
			total += row[k]
		}
		for k := range row {
			row[k] /= total
		}
	}
	return s
}

func (s *SumLayer) rowSums() []float64 {
	r, _ := s.Weights.Value.Dims()
	sums := make([]float64, r)
	for c := range sums {
		for _, w := range s.Weights.Value.RawRowView(c) {
			sums[c] += w
		}
	}
	return sums
}

func (s *SumLayer) Forward(x *mat.Dense, train bool) *mat.Dense {
	sums := s.rowSums()
	var y mat.Dense
	y.Mul(x, s.Weights.Value.T())
	y.Apply(func(_, c int, v float64) float64 { return v / sums[c] }, &y)
	if train {
		s.x, s.y, s.sums = x, &y, sums
	}
	return &y
}

func (s *SumLayer) Backward(grad *mat.Dense) *mat.Dense {
	var gs mat.Dense
	gs.Apply(func(_, c int, g float64) float64 { return g / s.sums[c] }, grad)

	var dW mat.Dense
	dW.Mul(gs.T(), s.x)
	n, out := gs.Dims()
	for c := 0; c < out; c++ {
		shift := 0.0
		for i := 0; i < n; i++ {
			shift += gs.At(i, c) * s.y.At(i, c)
		}
		row := dW.RawRowView(c)
		for k := range row {
			row[k] -= shift
		}
	}
	s.Weights.Grad.Add(s.Weights.Grad, &dW)

	var dx mat.Dense
	dx.Mul(&gs, s.Weights.Value)
	return &dx
}

func (s *SumLayer) Parameters() []*Parameter {
	return []*Parameter{s.Weights}
}
