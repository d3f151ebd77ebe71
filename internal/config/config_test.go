package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverDefaults(t *testing.T) {
	path := writeConfig(t, "n_labels: 4\nn_digits: 3\nlr: 0.005\nmnist_dir: \"/data/mnist\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NLabels != 4 || cfg.NDigits != 3 || cfg.LR != 0.005 || cfg.MNISTDir != "/data/mnist" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CanvasSize != Default().CanvasSize || cfg.Net != "spn" {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	if _, err := Load(writeConfig(t, "n_lables: 3\n")); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# nothing here\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != *Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func ptr[T any](v T) *T { return &v }

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		NLabels: ptr(3), NDigits: ptr(2), Epochs: ptr(7), CUDA: ptr(true),
		Seed: ptr(int64(99)), LR: ptr(0.1), ShardDir: ptr("/shards"),
	})
	if cfg.NLabels != 3 || cfg.NDigits != 2 || cfg.Epochs != 7 || !cfg.CUDA || cfg.Seed != 99 || cfg.LR != 0.1 || cfg.ShardDir != "/shards" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BatchSize != Default().BatchSize {
		t.Fatalf("zero override changed batch size to %d", cfg.BatchSize)
	}
}

func TestApplyOverridesExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "seed: 7\ncuda_device_id: 3\nclip_margin: 0.01\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ApplyOverrides(Overrides{Seed: ptr(int64(0)), CUDADeviceID: ptr(0), ClipMargin: ptr(0.0)})
	if cfg.Seed != 0 || cfg.CUDADeviceID != 0 || cfg.ClipMargin != 0 {
		t.Fatalf("explicit zero overrides ignored: seed=%d device=%d margin=%g", cfg.Seed, cfg.CUDADeviceID, cfg.ClipMargin)
	}
	if cfg.NLabels != Default().NLabels {
		t.Fatalf("unset override changed n_labels to %d", cfg.NLabels)
	}
}

func TestValidateCanvasFitsDigits(t *testing.T) {
	cfg := Default()
	cfg.CanvasSize = 20
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected canvas size error without shards")
	}
	cfg.ShardDir = "/shards"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shards carry their own canvas size: %v", err)
	}
}

func TestValidateDigitsExceedLabels(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{NLabels: ptr(2), NDigits: ptr(6)})
	err := cfg.Validate()
	if !errors.Is(err, ErrDigitsExceedLabels) {
		t.Fatalf("expected ErrDigitsExceedLabels, got %v", err)
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.LogInterval = 0
	cfg.TestBatchSize = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogInterval != 10 || cfg.TestBatchSize != cfg.BatchSize {
		t.Fatalf("defaults not filled: log=%d test_batch=%d", cfg.LogInterval, cfg.TestBatchSize)
	}
}

func TestValidateSubsetBound(t *testing.T) {
	cfg := Default()
	cfg.TrainSubset = cfg.TrainSamples + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected train_subset bound error")
	}
}

func TestRunDir(t *testing.T) {
	cfg := Default()
	now := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	if got, want := cfg.RunDir(now), filepath.Join("results", "240305_1407_spn"); got != want {
		t.Fatalf("RunDir = %s, want %s", got, want)
	}
	cfg.ExperimentName = "ablation"
	if got, want := cfg.RunDir(now), filepath.Join("results", "240305_1407_ablation"); got != want {
		t.Fatalf("RunDir = %s, want %s", got, want)
	}
}
