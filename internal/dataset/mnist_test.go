package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeIDX(t *testing.T, path string, header []uint32, payload []byte) {
	t.Helper()
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if err := binary.Write(gz, binary.BigEndian, header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadMNIST(t *testing.T) {
	dir := t.TempDir()
	pixels := make([]byte, 3*2*2)
	for i := range pixels {
		pixels[i] = byte(i * 20)
	}
	writeIDX(t, filepath.Join(dir, TrainImagesFile), []uint32{idxImagesMagic, 3, 2, 2}, pixels)
	writeIDX(t, filepath.Join(dir, TrainLabelsFile), []uint32{idxLabelsMagic, 3}, []byte{7, 0, 1})

	m, err := LoadMNIST(dir, true)
	if err != nil {
		t.Fatalf("LoadMNIST: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 digits, got %d", m.Len())
	}
	d := m.Digit(0)
	if d.Label != 7 || d.Size != 2 || d.Pixels[1] != 20.0/255 {
		t.Fatalf("unexpected first digit %+v", d)
	}
}

func TestLoadMNISTBadMagic(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, filepath.Join(dir, TestImagesFile), []uint32{1234, 0, 2, 2}, nil)
	writeIDX(t, filepath.Join(dir, TestLabelsFile), []uint32{idxLabelsMagic, 0}, nil)
	if _, err := LoadMNIST(dir, false); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestLoadMNISTCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeIDX(t, filepath.Join(dir, TestImagesFile), []uint32{idxImagesMagic, 1, 1, 1}, []byte{9})
	writeIDX(t, filepath.Join(dir, TestLabelsFile), []uint32{idxLabelsMagic, 2}, []byte{1, 2})
	if _, err := LoadMNIST(dir, false); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEmbeddedMNISTDigits(t *testing.T) {
	m, err := EmbeddedMNIST(false)
	if err != nil {
		t.Fatalf("EmbeddedMNIST: %v", err)
	}
	if m.Len() != 10000 {
		t.Fatalf("expected 10000 test digits, got %d", m.Len())
	}
	seen := map[int]bool{}
	for i := 0; i < m.Len(); i++ {
		d := m.Digit(i)
		if d.Size != DigitSize || len(d.Pixels) != DigitSize*DigitSize {
			t.Fatalf("digit %d has size %d with %d pixels", i, d.Size, len(d.Pixels))
		}
		if d.Label < 0 || d.Label > 9 {
			t.Fatalf("digit %d has label %d", i, d.Label)
		}
		seen[d.Label] = true
		for _, v := range d.Pixels {
			if v < 0 || v > 1 {
				t.Fatalf("digit %d has intensity %g", i, v)
			}
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected all 10 labels, got %d", len(seen))
	}
}
