package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"spn-multilabel/internal/clip"
	"spn-multilabel/internal/dataset"
	"spn-multilabel/internal/device"
	"spn-multilabel/internal/metrics"
	"spn-multilabel/internal/model"
	"spn-multilabel/internal/optim"
)

// ErrDeviceUnsupported is returned when a batch cannot be placed on the device.
var ErrDeviceUnsupported = errors.New("trainer: device has no compute backend")

// ErrNonFiniteLoss is returned when a training step produces NaN or Inf.
var ErrNonFiniteLoss = errors.New("trainer: non-finite loss")

// Trainer owns the model, optimizer and clipper for one run. It is not safe
// for concurrent use.
type Trainer struct {
	Model       model.Model
	Device      device.Device
	Optimizer   optim.Optimizer
	Objective   Objective
	Clipper     *clip.Clipper
	Logger      *log.Logger
	LogInterval int
}

func (t *Trainer) place(b dataset.Batch) (dataset.Batch, error) {
	if t.Device.Kind != device.CPU {
		return dataset.Batch{}, fmt.Errorf("%w: %s", ErrDeviceUnsupported, t.Device)
	}
	return b, nil
}

// Step runs forward, loss, backward, one optimizer update and value clipping
// on a single batch and returns the mean loss per output element.
func (t *Trainer) Step(b dataset.Batch) (float64, error) {
	b, err := t.place(b)
	if err != nil {
		return 0, err
	}
	t.Optimizer.ZeroGrad()

	out, err := t.Model.Forward(b.Inputs, true)
	if err != nil {
		return 0, err
	}
	if err := checkShapes(out, b.Targets); err != nil {
		return 0, err
	}
	rows, cols := out.Dims()
	scale := 1 / float64(rows*cols)

	loss := t.Objective.Loss(out, b.Targets) * scale
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
	}
	grad := t.Objective.Grad(out, b.Targets)
	grad.Scale(scale, grad)
	if err := t.Model.Backward(grad); err != nil {
		return 0, err
	}

	t.Optimizer.Step()
	if err := t.Clipper.ClipValues(t.Model.Parameters()); err != nil {
		return 0, err
	}
	return loss, nil
}

// Evaluate runs inference over every batch of loader and returns the average
// loss and accuracy in percent. It never updates parameters or optimizer
// state, so repeated calls without training in between agree.
func (t *Trainer) Evaluate(ctx context.Context, loader *dataset.Loader, tag string) (loss, accuracy float64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var acc metrics.Accumulator
	batches, errs := loader.Batches(ctx)
	for b := range batches {
		b, err := t.place(b)
		if err != nil {
			return 0, 0, err
		}
		out, err := t.Model.Forward(b.Inputs, false)
		if err != nil {
			return 0, 0, err
		}
		if err := checkShapes(out, b.Targets); err != nil {
			return 0, 0, err
		}
		acc.Add(t.Objective.Loss(out, b.Targets), t.Objective.Correct(out, b.Targets), b.Size())
	}
	if err := <-errs; err != nil {
		return 0, 0, fmt.Errorf("evaluate %s: %w", tag, err)
	}

	loss, accuracy, err = acc.Result(loader.NumSamples(), t.Objective.Units())
	if err != nil {
		return 0, 0, fmt.Errorf("evaluate %s: %w", tag, err)
	}
	t.Logger.Printf("%-5s set: Average loss: %.4f, Accuracy: %.2f%%", tag, loss, accuracy)
	return loss, accuracy, nil
}
