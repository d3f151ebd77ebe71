package dataset

import (
	"fmt"
	"math/rand"
)

// MultiOptions configures canvas generation.
type MultiOptions struct {
	// NLabels restricts digits to 0..NLabels-1 and sets the target width.
	NLabels int
	// NDigits is the maximum number of distinct digits per canvas.
	NDigits    int
	CanvasSize int
	Samples    int
	Seed       int64
	Prefix     string
}

// NewMultiMNIST pastes between 1 and NDigits digits with distinct labels at
// random positions onto blank canvases. Overlaps keep the brighter pixel.
// The target marks every label present on the canvas.
func NewMultiMNIST(src DigitSource, opts MultiOptions) (*Memory, error) {
	if opts.NLabels <= 0 || opts.NLabels > 10 {
		return nil, fmt.Errorf("dataset: n_labels must be in [1, 10] (got %d)", opts.NLabels)
	}
	if opts.NDigits <= 0 || opts.NDigits > opts.NLabels {
		return nil, fmt.Errorf("dataset: n_digits must be in [1, n_labels=%d] (got %d)", opts.NLabels, opts.NDigits)
	}

	byLabel := make([][]int, opts.NLabels)
	for i := 0; i < src.Len(); i++ {
		d := src.Digit(i)
		if d.Label >= 0 && d.Label < opts.NLabels {
			if d.Size > opts.CanvasSize {
				return nil, fmt.Errorf("dataset: digit size %d exceeds canvas size %d", d.Size, opts.CanvasSize)
			}
			byLabel[d.Label] = append(byLabel[d.Label], i)
		}
	}
	for label, pool := range byLabel {
		if len(pool) == 0 {
			return nil, fmt.Errorf("dataset: no source digits with label %d", label)
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	side := opts.CanvasSize
	samples := make([]Sample, opts.Samples)
	for n := range samples {
		canvas := make([]float64, side*side)
		target := make([]float64, opts.NLabels)
		count := 1 + rng.Intn(opts.NDigits)
		for _, label := range rng.Perm(opts.NLabels)[:count] {
			pool := byLabel[label]
			d := src.Digit(pool[rng.Intn(len(pool))])
			ox := rng.Intn(side - d.Size + 1)
			oy := rng.Intn(side - d.Size + 1)
			for y := 0; y < d.Size; y++ {
				for x := 0; x < d.Size; x++ {
					v := d.Pixels[y*d.Size+x]
					at := (oy+y)*side + ox + x
					if v > canvas[at] {
						canvas[at] = v
					}
				}
			}
			target[label] = 1
		}
		samples[n] = Sample{
			Key:    fmt.Sprintf("%s%06d", opts.Prefix, n),
			Image:  canvas,
			Target: target,
		}
	}
	return NewMemory(samples, side*side, opts.NLabels)
}
