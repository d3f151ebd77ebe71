package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BatchNorm normalises every feature column over the batch.
//
// With TrackRunningStats disabled the layer uses batch statistics in both
// training and inference mode and never updates RunningMean/RunningVar.
type BatchNorm struct {
	Gamma             *Parameter
	Beta              *Parameter
	TrackRunningStats bool
	Momentum          float64
	Eps               float64
	RunningMean       []float64
	RunningVar        []float64

	xhat   *mat.Dense
	invStd []float64
}

// NewBatchNorm returns a layer with unit scale, zero shift and running stats enabled.
func NewBatchNorm(name string, features int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:             newParameter(name+".weight", Dense, 1, features),
		Beta:              newParameter(name+".bias", Dense, 1, features),
		TrackRunningStats: true,
		Momentum:          0.1,
		Eps:               1e-5,
		RunningMean:       make([]float64, features),
		RunningVar:        make([]float64, features),
	}
	for i := range bn.RunningVar {
		bn.Gamma.Data()[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm) Forward(x *mat.Dense, train bool) *mat.Dense {
	n, f := x.Dims()
	mean := make([]float64, f)
	variance := make([]float64, f)

	if train || !bn.TrackRunningStats {
		for i := 0; i < n; i++ {
			for j, v := range x.RawRowView(i) {
				mean[j] += v
			}
		}
		for j := range mean {
			mean[j] /= float64(n)
		}
		for i := 0; i < n; i++ {
			for j, v := range x.RawRowView(i) {
				d := v - mean[j]
				variance[j] += d * d
			}
		}
		for j := range variance {
			variance[j] /= float64(n)
		}
		if train && bn.TrackRunningStats {
			m := bn.Momentum
			for j := range mean {
				unbiased := variance[j]
				if n > 1 {
					unbiased = variance[j] * float64(n) / float64(n-1)
				}
				bn.RunningMean[j] = (1-m)*bn.RunningMean[j] + m*mean[j]
				bn.RunningVar[j] = (1-m)*bn.RunningVar[j] + m*unbiased
			}
		}
	} else {
		copy(mean, bn.RunningMean)
		copy(variance, bn.RunningVar)
	}

	invStd := make([]float64, f)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.Eps)
	}

	gamma, beta := bn.Gamma.Data(), bn.Beta.Data()
	xhat := mat.NewDense(n, f, nil)
	y := mat.NewDense(n, f, nil)
	for i := 0; i < n; i++ {
		xr, hr, yr := x.RawRowView(i), xhat.RawRowView(i), y.RawRowView(i)
		for j := range xr {
			hr[j] = (xr[j] - mean[j]) * invStd[j]
			yr[j] = gamma[j]*hr[j] + beta[j]
		}
	}
	if train {
		bn.xhat = xhat
		bn.invStd = invStd
	}
	return y
}

func (bn *BatchNorm) Backward(grad *mat.Dense) *mat.Dense {
	n, f := grad.Dims()
	gamma := bn.Gamma.Data()
	dGamma, dBeta := bn.Gamma.Grad.RawMatrix().Data, bn.Beta.Grad.RawMatrix().Data

	sumDxhat := make([]float64, f)
	sumDxhatXhat := make([]float64, f)
	for i := 0; i < n; i++ {
		gr, hr := grad.RawRowView(i), bn.xhat.RawRowView(i)
		for j := range gr {
			dGamma[j] += gr[j] * hr[j]
			dBeta[j] += gr[j]
			dxhat := gr[j] * gamma[j]
			sumDxhat[j] += dxhat
			sumDxhatXhat[j] += dxhat * hr[j]
		}
	}

	dx := mat.NewDense(n, f, nil)
	nf := float64(n)
	for i := 0; i < n; i++ {
		gr, hr, dr := grad.RawRowView(i), bn.xhat.RawRowView(i), dx.RawRowView(i)
		for j := range gr {
			dxhat := gr[j] * gamma[j]
			dr[j] = bn.invStd[j] / nf * (nf*dxhat - sumDxhat[j] - hr[j]*sumDxhatXhat[j])
		}
	}
	return dx
}

func (bn *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{bn.Gamma, bn.Beta}
}
