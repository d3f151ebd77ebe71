package dataset

import (
	"fmt"
	"math/rand"
)

// segments lists the lit seven-segment bars (a..g) per digit.
var segments = [10]string{
	0: "abcdef",
	1: "bc",
	2: "abged",
	3: "abgcd",
	4: "fgbc",
	5: "afgcd",
	6: "afgedc",
	7: "abc",
	8: "abcdefg",
	9: "abcdfg",
}

// Glyphs is a procedurally drawn seven-segment digit set small enough for
// tests that need canvases below the MNIST digit size.
type Glyphs struct {
	digits []Digit
}

// NewGlyphs draws perLabel jittered seven-segment digits for each of 0..9.
func NewGlyphs(size, perLabel int, seed int64) (*Glyphs, error) {
	if size < 7 {
		return nil, fmt.Errorf("dataset: glyph size %d too small (min 7)", size)
	}
	if perLabel <= 0 {
		return nil, fmt.Errorf("dataset: glyphs per label must be > 0 (got %d)", perLabel)
	}
	rng := rand.New(rand.NewSource(seed))
	g := &Glyphs{digits: make([]Digit, 0, 10*perLabel)}
	for n := 0; n < perLabel; n++ {
		for label := 0; label < 10; label++ {
			g.digits = append(g.digits, drawGlyph(label, size, rng))
		}
	}
	return g, nil
}

func (g *Glyphs) Len() int { return len(g.digits) }

func (g *Glyphs) Digit(i int) Digit { return g.digits[i] }

func drawGlyph(label, size int, rng *rand.Rand) Digit {
	px := make([]float64, size*size)
	thick := max(1, size/7)
	margin := size / 6
	jitter := func() int { return rng.Intn(3) - 1 }

	left, right := margin+jitter(), size-1-margin-thick+jitter()
	top, bottom := margin+jitter(), size-1-margin-thick+jitter()
	mid := (top + bottom) / 2
	ink := 0.7 + 0.3*rng.Float64()

	fill := func(x0, y0, x1, y1 int) {
		for y := max(0, y0); y <= min(size-1, y1); y++ {
			for x := max(0, x0); x <= min(size-1, x1); x++ {
				px[y*size+x] = ink
			}
		}
	}
	for _, seg := range segments[label] {
		switch seg {
		case 'a':
			fill(left, top, right+thick-1, top+thick-1)
		case 'b':
			fill(right, top, right+thick-1, mid+thick-1)
		case 'c':
			fill(right, mid, right+thick-1, bottom+thick-1)
		case 'd':
			fill(left, bottom, right+thick-1, bottom+thick-1)
		case 'e':
			fill(left, mid, left+thick-1, bottom+thick-1)
		case 'f':
			fill(left, top, left+thick-1, mid+thick-1)
		case 'g':
			fill(left, mid, right+thick-1, mid+thick-1)
		}
	}
	return Digit{Pixels: px, Size: size, Label: label}
}
