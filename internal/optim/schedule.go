package optim

import "math"

// StepLR multiplies the learning rate by Gamma every StepSize calls to Step.
type StepLR struct {
	opt       Optimizer
	baseLR    float64
	stepSize  int
	gamma     float64
	lastEpoch int
}

// NewStepLR captures the optimizer's current learning rate as the base rate.
func NewStepLR(opt Optimizer, stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 1
	}
	return &StepLR{opt: opt, baseLR: opt.LR(), stepSize: stepSize, gamma: gamma}
}

// Step advances the schedule by one epoch and updates the optimizer.
func (s *StepLR) Step() {
	s.lastEpoch++
	s.opt.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize)))
}

// LastEpoch reports how many times Step was called.
func (s *StepLR) LastEpoch() int { return s.lastEpoch }
