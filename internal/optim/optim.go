// Package optim updates model parameters from their accumulated gradients.
package optim

import (
	"fmt"
	"math"

	"spn-multilabel/internal/model"
)

// Optimizer applies one update to the parameters it was built with.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// AdamConfig holds Adam hyperparameters; zero fields take the usual defaults.
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// Adam implements Adam with optional L2 weight decay folded into the gradient.
type Adam struct {
	params []*model.Parameter
	cfg    AdamConfig
	step   int
	m, v   map[*model.Parameter][]float64
}

// NewAdam binds an Adam optimizer to params.
func NewAdam(params []*model.Parameter, cfg AdamConfig) *Adam {
	if cfg.LR <= 0 {
		cfg.LR = 1e-3
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	a := &Adam{
		params: params,
		cfg:    cfg,
		m:      make(map[*model.Parameter][]float64, len(params)),
		v:      make(map[*model.Parameter][]float64, len(params)),
	}
	for _, p := range params {
		a.m[p] = make([]float64, p.Size())
		a.v[p] = make([]float64, p.Size())
	}
	return a
}

func (a *Adam) Step() {
	a.step++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(a.step))
	c2 := 1 - math.Pow(b2, float64(a.step))
	for _, p := range a.params {
		data := p.Data()
		grad := p.Grad.RawMatrix().Data
		m, v := a.m[p], a.v[p]
		for i, g := range grad {
			if a.cfg.WeightDecay != 0 {
				g += a.cfg.WeightDecay * data[i]
			}
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			data[i] -= a.cfg.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.cfg.Eps)
		}
	}
}

func (a *Adam) ZeroGrad() { zeroGrad(a.params) }

func (a *Adam) LR() float64 { return a.cfg.LR }

func (a *Adam) SetLR(lr float64) { a.cfg.LR = lr }

// SGD is stochastic gradient descent with classical momentum.
type SGD struct {
	params   []*model.Parameter
	lr       float64
	momentum float64
	velocity map[*model.Parameter][]float64
}

// NewSGD binds an SGD optimizer to params.
func NewSGD(params []*model.Parameter, lr, momentum float64) *SGD {
	s := &SGD{params: params, lr: lr, momentum: momentum, velocity: map[*model.Parameter][]float64{}}
	for _, p := range params {
		s.velocity[p] = make([]float64, p.Size())
	}
	return s
}

func (s *SGD) Step() {
	for _, p := range s.params {
		data := p.Data()
		vel := s.velocity[p]
		for i, g := range p.Grad.RawMatrix().Data {
			vel[i] = s.momentum*vel[i] + g
			data[i] -= s.lr * vel[i]
		}
	}
}

func (s *SGD) ZeroGrad() { zeroGrad(s.params) }

func (s *SGD) LR() float64 { return s.lr }

func (s *SGD) SetLR(lr float64) { s.lr = lr }

func zeroGrad(params []*model.Parameter) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// New builds the optimizer named by name ("adam" or "sgd").
func New(name string, params []*model.Parameter, lr float64) (Optimizer, error) {
	switch name {
	case "", "adam":
		return NewAdam(params, AdamConfig{LR: lr}), nil
	case "sgd":
		return NewSGD(params, lr, 0.9), nil
	default:
		return nil, fmt.Errorf("optim: unknown optimizer %q", name)
	}
}
