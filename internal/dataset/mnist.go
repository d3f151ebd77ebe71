package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unixpickle/mnist"
)

// MNIST file names as distributed.
const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// Digit is a square grayscale digit image with intensities in [0, 1].
type Digit struct {
	Pixels []float64
	Size   int
	Label  int
}

// DigitSource provides labelled digits to paste onto canvases.
type DigitSource interface {
	Len() int
	Digit(i int) Digit
}

// DigitSize is the side length of an MNIST digit.
const DigitSize = 28

// MNIST holds one split of decoded MNIST digits.
type MNIST struct {
	digits []Digit
}

func (m *MNIST) Len() int { return len(m.digits) }

func (m *MNIST) Digit(i int) Digit { return m.digits[i] }

// EmbeddedMNIST returns the train or test split bundled with
// github.com/unixpickle/mnist.
func EmbeddedMNIST(train bool) (*MNIST, error) {
	set := mnist.LoadTestingDataSet()
	if train {
		set = mnist.LoadTrainingDataSet()
	}
	m := &MNIST{digits: make([]Digit, len(set.Samples))}
	for i, s := range set.Samples {
		if len(s.Intensities) != DigitSize*DigitSize {
			return nil, fmt.Errorf("mnist: embedded sample %d has %d pixels", i, len(s.Intensities))
		}
		px := make([]float64, len(s.Intensities))
		copy(px, s.Intensities)
		m.digits[i] = Digit{Pixels: px, Size: DigitSize, Label: s.Label}
	}
	return m, nil
}

// LoadMNIST reads the train or test split from dir.
func LoadMNIST(dir string, train bool) (*MNIST, error) {
	images, labels := TestImagesFile, TestLabelsFile
	if train {
		images, labels = TrainImagesFile, TrainLabelsFile
	}
	return ReadIDX(filepath.Join(dir, images), filepath.Join(dir, labels))
}

// ReadIDX decodes an IDX image file and its label file. Files ending in .gz
// are decompressed transparently.
func ReadIDX(imagesPath, labelsPath string) (*MNIST, error) {
	var (
		pixels [][]byte
		size   int
		labels []byte
	)
	err := withIDX(imagesPath, func(r io.Reader) error {
		var hdr [4]uint32
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if hdr[0] != idxImagesMagic {
			return fmt.Errorf("bad magic %d", hdr[0])
		}
		if hdr[2] != hdr[3] {
			return fmt.Errorf("non-square images %dx%d", hdr[2], hdr[3])
		}
		size = int(hdr[2])
		pixels = make([][]byte, hdr[1])
		for i := range pixels {
			pixels[i] = make([]byte, size*size)
			if _, err := io.ReadFull(r, pixels[i]); err != nil {
				return fmt.Errorf("read image %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mnist images %s: %w", imagesPath, err)
	}
	err = withIDX(labelsPath, func(r io.Reader) error {
		var hdr [2]uint32
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if hdr[0] != idxLabelsMagic {
			return fmt.Errorf("bad magic %d", hdr[0])
		}
		labels = make([]byte, hdr[1])
		if _, err := io.ReadFull(r, labels); err != nil {
			return fmt.Errorf("read labels: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mnist labels %s: %w", labelsPath, err)
	}
	if len(labels) != len(pixels) {
		return nil, fmt.Errorf("mnist: %d images but %d labels", len(pixels), len(labels))
	}

	m := &MNIST{digits: make([]Digit, len(pixels))}
	for i, raw := range pixels {
		px := make([]float64, len(raw))
		for j, b := range raw {
			px[j] = float64(b) / 255
		}
		m.digits[i] = Digit{Pixels: px, Size: size, Label: int(labels[i])}
	}
	return m, nil
}

func withIDX(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}
	return fn(r)
}
