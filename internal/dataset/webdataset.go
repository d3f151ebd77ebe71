package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is a paired entry of a WebDataset-style shard: <key>.png holds the
// canvas and <key>.labels the comma separated label ids present on it.
type Record struct {
	Key    string
	Image  []byte
	Labels []int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired records from the shard at path.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Record, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			switch ext {
			case ".png":
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read image %s: %w", name, err)
					return
				}
				pendingFor(pending, key).image = data
			case ".labels":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read labels %s: %w", name, err)
					return
				}
				labels, err := parseLabels(string(payload))
				if err != nil {
					errCh <- fmt.Errorf("parse labels %s: %w", name, err)
					return
				}
				part := pendingFor(pending, key)
				part.labels = labels
				part.hasLabels = true
			default:
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}

			if part := pending[key]; part.ready() {
				delete(pending, key)
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- Record{Key: key, Image: part.image, Labels: part.labels}:
				}
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%d records incomplete", len(pending))
		}
	}()

	return out, errCh
}

type partial struct {
	image     []byte
	labels    []int
	hasLabels bool
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.hasLabels
}

func pendingFor(pending map[string]*partial, key string) *partial {
	part := pending[key]
	if part == nil {
		part = &partial{}
		pending[key] = part
	}
	return part
}

func parseLabels(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	fields := strings.Split(s, ",")
	labels := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		labels = append(labels, v)
	}
	return labels, nil
}

// LoadShards reads every shard in order into memory. Images must be
// canvasSize x canvasSize and labels must lie in [0, nLabels).
func LoadShards(ctx context.Context, paths []string, nLabels, canvasSize int) (*Memory, error) {
	var samples []Sample
	for _, path := range paths {
		records, errCh := StreamShard(ctx, path, 0)
		for rec := range records {
			s, err := decodeRecord(rec, nLabels, canvasSize)
			if err != nil {
				// drain so the shard goroutine can exit
				for range records {
				}
				<-errCh
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			samples = append(samples, s)
		}
		if err := <-errCh; err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return NewMemory(samples, canvasSize*canvasSize, nLabels)
}

func decodeRecord(rec Record, nLabels, canvasSize int) (Sample, error) {
	img, err := png.Decode(bytes.NewReader(rec.Image))
	if err != nil {
		return Sample{}, fmt.Errorf("decode %s: %w", rec.Key, err)
	}
	b := img.Bounds()
	if b.Dx() != canvasSize || b.Dy() != canvasSize {
		return Sample{}, fmt.Errorf("%s: image is %dx%d, want %dx%d", rec.Key, b.Dx(), b.Dy(), canvasSize, canvasSize)
	}
	px := make([]float64, canvasSize*canvasSize)
	for y := 0; y < canvasSize; y++ {
		for x := 0; x < canvasSize; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			px[y*canvasSize+x] = float64(g.Y) / 255
		}
	}
	target := make([]float64, nLabels)
	for _, l := range rec.Labels {
		if l < 0 || l >= nLabels {
			return Sample{}, fmt.Errorf("%s: label %d outside [0, %d)", rec.Key, l, nLabels)
		}
		target[l] = 1
	}
	return Sample{Key: rec.Key, Image: px, Target: target}, nil
}

// WriteShard encodes every sample of ds into a tar shard at path.
func WriteShard(path string, ds Dataset, canvasSize int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	tw := tar.NewWriter(f)
	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Sample(i)
		if err != nil {
			f.Close()
			return err
		}
		if err := writeRecord(tw, s, canvasSize); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", s.Key, err)
		}
	}
	if err := tw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	return f.Close()
}

func writeRecord(tw *tar.Writer, s Sample, canvasSize int) error {
	img := image.NewGray(image.Rect(0, 0, canvasSize, canvasSize))
	for i, v := range s.Image {
		img.Pix[i] = uint8(v*255 + 0.5)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return err
	}
	var labels []string
	for l, v := range s.Target {
		if v > 0.5 {
			labels = append(labels, strconv.Itoa(l))
		}
	}
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{s.Key + ".png", buf.Bytes()},
		{s.Key + ".labels", []byte(strings.Join(labels, ","))},
	} {
		hdr := &tar.Header{Name: entry.name, Size: int64(len(entry.data)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(entry.data); err != nil {
			return err
		}
	}
	return nil
}

// subset exposes a contiguous slice of another dataset.
type subset struct {
	Dataset
	lo, hi int
}

func (s subset) Len() int { return s.hi - s.lo }

func (s subset) Sample(i int) (Sample, error) {
	if i < 0 || i >= s.Len() {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndex, i, s.Len())
	}
	return s.Dataset.Sample(s.lo + i)
}

// ExportShards writes ds into dir as shards of at most perShard samples,
// named so DiscoverShards finds them in order. It returns the shard paths.
func ExportShards(dir string, ds Dataset, canvasSize, perShard int) ([]string, error) {
	if perShard <= 0 {
		return nil, fmt.Errorf("dataset: samples per shard must be > 0 (got %d)", perShard)
	}
	var paths []string
	for n, lo := 0, 0; lo < ds.Len(); n, lo = n+1, lo+perShard {
		path := filepath.Join(dir, ShardName(n))
		if err := WriteShard(path, subset{Dataset: ds, lo: lo, hi: min(lo+perShard, ds.Len())}, canvasSize); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
