package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"spn-multilabel/internal/clip"
	"spn-multilabel/internal/dataset"
	"spn-multilabel/internal/device"
	"spn-multilabel/internal/model"
	"spn-multilabel/internal/optim"
)

var cpu = device.Device{Kind: device.CPU}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func syntheticSet(t *testing.T, samples, side, labels int, seed int64) *dataset.Memory {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	out := make([]dataset.Sample, samples)
	for n := range out {
		image := make([]float64, side*side)
		for i := range image {
			if rng.Float64() < 0.3 {
				image[i] = rng.Float64()
			}
		}
		target := make([]float64, labels)
		target[rng.Intn(labels)] = 1
		for l := range target {
			if rng.Intn(3) == 0 {
				target[l] = 1
			}
		}
		out[n] = dataset.Sample{Key: fmt.Sprintf("%06d", n), Image: image, Target: target}
	}
	ds, err := dataset.NewMemory(out, side*side, labels)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return ds
}

func syntheticLoader(t *testing.T, samples, batchSize int) *dataset.Loader {
	t.Helper()
	return &dataset.Loader{Dataset: syntheticSet(t, samples, 10, 3, 8), BatchSize: batchSize, NumWorkers: 2}
}

func newTrainer(t *testing.T, logger *log.Logger) *Trainer {
	t.Helper()
	net, err := model.New("spn", model.Spec{Inputs: 100, Outputs: 3, Components: 6, Seed: 4})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	disableRunningStats(net)
	return &Trainer{
		Model:       net,
		Device:      cpu,
		Optimizer:   optim.NewAdam(net.Parameters(), optim.AdamConfig{LR: 0.05}),
		Objective:   Multilabel{Labels: 3},
		Clipper:     clip.New(cpu, 0),
		Logger:      logger,
		LogInterval: 2,
	}
}

func firstBatch(t *testing.T, l *dataset.Loader) dataset.Batch {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches, _ := l.Batches(ctx)
	b, ok := <-batches
	if !ok {
		t.Fatal("loader yielded no batches")
	}
	return b
}

func TestStepReducesLossAndClips(t *testing.T) {
	tr := newTrainer(t, quietLogger())
	b := firstBatch(t, syntheticLoader(t, 8, 8))

	first, err := tr.Step(b)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	var last float64
	for i := 0; i < 30; i++ {
		if last, err = tr.Step(b); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if last >= first {
		t.Fatalf("expected loss to decrease on a repeated batch; first=%f last=%f", first, last)
	}
	for _, p := range tr.Model.Parameters() {
		for _, v := range p.Data() {
			switch p.Kind {
			case model.Distribution:
				if !(v > 0 && v < 1) {
					t.Fatalf("%s value %v outside (0, 1)", p.Name, v)
				}
			case model.SumWeight:
				if !(v > 0) {
					t.Fatalf("%s value %v not positive", p.Name, v)
				}
			}
		}
	}
}

func TestStepShapeMismatchIsFatal(t *testing.T) {
	tr := newTrainer(t, quietLogger())
	b := firstBatch(t, syntheticLoader(t, 4, 4))
	b.Targets = mat.NewDense(4, 2, nil)
	if _, err := tr.Step(b); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestStepRejectsDeviceWithoutBackend(t *testing.T) {
	tr := newTrainer(t, quietLogger())
	tr.Device = device.Device{Kind: device.CUDA}
	b := firstBatch(t, syntheticLoader(t, 4, 4))
	if _, err := tr.Step(b); !errors.Is(err, ErrDeviceUnsupported) {
		t.Fatalf("expected ErrDeviceUnsupported, got %v", err)
	}
}

func TestTrainEpochNormalisesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	tr := newTrainer(t, log.New(&buf, "", 0))
	loader := syntheticLoader(t, 20, 4)

	loss, err := tr.TrainEpoch(context.Background(), loader, 3)
	if err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	if loss <= 0 || math.IsNaN(loss) {
		t.Fatalf("unexpected mean loss %f", loss)
	}
	for _, p := range tr.Model.Parameters() {
		if p.Kind != model.SumWeight {
			continue
		}
		rows, _ := p.Value.Dims()
		for r := 0; r < rows; r++ {
			if total := floats.Sum(p.Value.RawRowView(r)); math.Abs(total-1) > 1e-9 {
				t.Fatalf("%s row %d sums to %v after the epoch", p.Name, r, total)
			}
		}
	}

	out := buf.String()
	// 5 batches, logged at indices 0, 2 and 4.
	if n := strings.Count(out, "Train Epoch: 3 ["); n != 3 {
		t.Fatalf("expected 3 progress lines, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "[    8/20    (40%)]") {
		t.Fatalf("missing progress line for batch 2:\n%s", out)
	}
	if !strings.Contains(out, "Train Epoch: 3 took") {
		t.Fatalf("missing epoch duration line:\n%s", out)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	tr := newTrainer(t, quietLogger())
	loader := syntheticLoader(t, 12, 5)
	if _, err := tr.TrainEpoch(context.Background(), loader, 1); err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}

	before := make([][]float64, 0)
	for _, p := range tr.Model.Parameters() {
		before = append(before, append([]float64(nil), p.Data()...))
	}

	l1, a1, err := tr.Evaluate(context.Background(), loader, "Train")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	l2, a2, err := tr.Evaluate(context.Background(), loader, "Train")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if l1 != l2 || a1 != a2 {
		t.Fatalf("evaluation not idempotent: (%v, %v) vs (%v, %v)", l1, a1, l2, a2)
	}
	for i, p := range tr.Model.Parameters() {
		if !floats.Equal(before[i], p.Data()) {
			t.Fatalf("evaluation mutated %s", p.Name)
		}
	}
}

// constantModel predicts the same probability for every label.
type constantModel struct {
	outputs int
	value   float64
}

func (c *constantModel) Forward(x *mat.Dense, _ bool) (*mat.Dense, error) {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, c.outputs, nil)
	out.Apply(func(_, _ int, _ float64) float64 { return c.value }, out)
	return out, nil
}

func (c *constantModel) Backward(*mat.Dense) error      { return nil }
func (c *constantModel) Parameters() []*model.Parameter { return nil }
func (c *constantModel) Modules() []model.Layer         { return nil }
func (c *constantModel) ZeroGrad()                      {}

func TestEvaluateDividesBySamplerLength(t *testing.T) {
	samples := make([]dataset.Sample, 100)
	for i := range samples {
		samples[i] = dataset.Sample{Key: fmt.Sprint(i), Image: []float64{0, 1}, Target: []float64{0, 0, 0}}
	}
	ds, err := dataset.NewMemory(samples, 2, 3)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	sampler, err := dataset.NewSubsetRandom(100, 10, 2)
	if err != nil {
		t.Fatalf("NewSubsetRandom: %v", err)
	}
	loader := &dataset.Loader{Dataset: ds, Sampler: sampler, BatchSize: 3, NumWorkers: 2}

	tr := &Trainer{
		Model:     &constantModel{outputs: 3, value: 0.5},
		Device:    cpu,
		Objective: Multilabel{Labels: 3},
		Logger:    quietLogger(),
	}
	loss, acc, err := tr.Evaluate(context.Background(), loader, "Test")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(loss-math.Ln2) > 1e-12 {
		t.Fatalf("average loss = %v, want ln2 (summed over 10 samples, divided by 10)", loss)
	}
	if acc != 100 {
		t.Fatalf("accuracy = %v, want 100", acc)
	}
}

func TestMultilabelObjective(t *testing.T) {
	out := mat.NewDense(2, 2, []float64{0.9, 0.2, 0.4, 0.6})
	target := mat.NewDense(2, 2, []float64{1, 0, 1, 1})
	obj := Multilabel{Labels: 2}

	want := -(math.Log(0.9) + math.Log(0.8) + math.Log(0.4) + math.Log(0.6))
	if got := obj.Loss(out, target); math.Abs(got-want) > 1e-12 {
		t.Fatalf("loss = %v, want %v", got, want)
	}
	if got := obj.Correct(out, target); got != 3 {
		t.Fatalf("correct = %d, want 3", got)
	}

	// Grad must match a central difference of Loss.
	g := obj.Grad(out, target)
	rng := rand.New(rand.NewSource(1))
	i, j := rng.Intn(2), rng.Intn(2)
	h := 1e-6
	up, down := mat.DenseCopyOf(out), mat.DenseCopyOf(out)
	up.Set(i, j, out.At(i, j)+h)
	down.Set(i, j, out.At(i, j)-h)
	numeric := (obj.Loss(up, target) - obj.Loss(down, target)) / (2 * h)
	if math.Abs(numeric-g.At(i, j)) > 1e-5 {
		t.Fatalf("grad[%d,%d] = %v, numeric %v", i, j, g.At(i, j), numeric)
	}
}

func TestSingleLabelObjective(t *testing.T) {
	out := mat.NewDense(2, 3, []float64{0.1, 0.7, 0.2, 0.5, 0.3, 0.2})
	target := mat.NewDense(2, 3, []float64{0, 1, 0, 0, 0, 1})
	obj := SingleLabel{}
	want := -(math.Log(0.7) + math.Log(0.2))
	if got := obj.Loss(out, target); math.Abs(got-want) > 1e-12 {
		t.Fatalf("loss = %v, want %v", got, want)
	}
	if got := obj.Correct(out, target); got != 1 {
		t.Fatalf("correct = %d, want 1", got)
	}
	if g := obj.Grad(out, target); math.Abs(g.At(1, 2)+5) > 1e-12 || g.At(1, 0) != 0 {
		t.Fatalf("unexpected grad %v", mat.Formatted(g))
	}
	if obj.Units() != 1 {
		t.Fatalf("units = %d", obj.Units())
	}
}

func TestNewObjective(t *testing.T) {
	if obj, err := NewObjective("multilabel", 4); err != nil || obj.Units() != 4 {
		t.Fatalf("multilabel objective: %v %v", obj, err)
	}
	if _, err := NewObjective("ranking", 4); err == nil {
		t.Fatal("expected unknown task error")
	}
}
