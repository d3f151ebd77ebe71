// Package device picks where the run executes and reports host capabilities.
package device

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Kind names a device family.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Device is fixed for the lifetime of a run.
type Device struct {
	Kind     Kind
	ID       int
	Brand    string
	Cores    int
	Features []string
}

func (d Device) String() string {
	if d.Kind == CUDA {
		return fmt.Sprintf("cuda:%d", d.ID)
	}
	return string(CPU)
}

// Describe returns a one-line host summary for logs.
func (d Device) Describe() string {
	return fmt.Sprintf("device=%s cpu=%q cores=%d features=%s",
		d.String(), d.Brand, d.Cores, strings.Join(d.Features, ","))
}

// AcceleratorAvailable reports whether a CUDA backend is compiled in.
var AcceleratorAvailable = func() bool { return false }

// Select returns the accelerator when requested and available, otherwise the CPU.
// fellBack is true when an accelerator was requested but could not be used.
func Select(wantCUDA bool, id int) (dev Device, fellBack bool) {
	dev = Device{
		Kind:     CPU,
		Brand:    cpuid.CPU.BrandName,
		Cores:    cpuid.CPU.LogicalCores,
		Features: simdFeatures(),
	}
	if !wantCUDA {
		return dev, false
	}
	if !AcceleratorAvailable() {
		return dev, true
	}
	dev.Kind = CUDA
	dev.ID = id
	return dev, false
}

func simdFeatures() []string {
	var out []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4.1"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "asimd"},
	} {
		if cpuid.CPU.Supports(f.id) {
			out = append(out, f.name)
		}
	}
	return out
}
