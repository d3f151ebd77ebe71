// Package clip keeps model parameters inside their valid ranges after an
// optimizer step.
//
// Two policies are applied on different schedules: ClipValues after every
// batch, Normalize once at the end of every epoch.
package clip

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"spn-multilabel/internal/device"
	"spn-multilabel/internal/model"
)

// ErrNonFinite reports a NaN or infinite parameter value.
var ErrNonFinite = errors.New("clip: non-finite parameter value")

// DefaultMargin keeps clipped values away from the open interval bounds.
const DefaultMargin = 1e-6

// Clipper applies the clipping policies to a model's parameters.
type Clipper struct {
	device device.Device
	margin float64
}

// New returns a Clipper bound to dev. A non-positive margin selects DefaultMargin.
func New(dev device.Device, margin float64) *Clipper {
	if margin <= 0 || margin >= 0.5 {
		margin = DefaultMargin
	}
	return &Clipper{device: dev, margin: margin}
}

// Device returns the device the clipper was bound to.
func (c *Clipper) Device() device.Device { return c.device }

// Margin returns the distance kept from every bound.
func (c *Clipper) Margin() float64 { return c.margin }

// ClipValues clamps distribution parameters into (0, 1) and sum weights into
// (0, +Inf).
func (c *Clipper) ClipValues(params []*model.Parameter) error {
	for _, p := range params {
		if err := ClipTensor(p, c.margin); err != nil {
			return err
		}
	}
	return nil
}

// Normalize rescales every sum-weight row to sum to one.
func (c *Clipper) Normalize(params []*model.Parameter) error {
	for _, p := range params {
		if err := NormalizeTensor(p); err != nil {
			return err
		}
	}
	return nil
}

// ClipTensor clamps p in place according to its kind. Dense parameters are
// only checked for finiteness.
func ClipTensor(p *model.Parameter, margin float64) error {
	data := p.Data()
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s[%d]=%v", ErrNonFinite, p.Name, i, v)
		}
	}
	switch p.Kind {
	case model.Distribution:
		lo, hi := margin, 1-margin
		for i, v := range data {
			data[i] = math.Min(math.Max(v, lo), hi)
		}
	case model.SumWeight:
		for i, v := range data {
			data[i] = math.Max(v, margin)
		}
	}
	return nil
}

// NormalizeTensor divides each row of a sum-weight parameter by its sum.
// Rows that sum to zero become uniform.
func NormalizeTensor(p *model.Parameter) error {
	if p.Kind != model.SumWeight {
		return nil
	}
	rows, cols := p.Value.Dims()
	for r := 0; r < rows; r++ {
		row := p.Value.RawRowView(r)
		total := floats.Sum(row)
		if math.IsNaN(total) || math.IsInf(total, 0) {
			return fmt.Errorf("%w: %s row %d sums to %v", ErrNonFinite, p.Name, r, total)
		}
		if total <= 0 {
			for k := range row {
				row[k] = 1 / float64(cols)
			}
			continue
		}
		floats.Scale(1/total, row)
	}
	return nil
}
