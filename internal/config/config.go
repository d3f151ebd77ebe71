package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrDigitsExceedLabels is returned when a canvas would need more distinct
// labels than exist.
var ErrDigitsExceedLabels = errors.New("option n_digits has to be <= n_labels")

const mnistDigitSize = 28

// Config captures the runtime knobs for an experiment.
type Config struct {
	Net            string  `yaml:"net"`
	Task           string  `yaml:"task"`
	NLabels        int     `yaml:"n_labels"`
	CanvasSize     int     `yaml:"canvas_size"`
	NDigits        int     `yaml:"n_digits"`
	LR             float64 `yaml:"lr"`
	Optimizer      string  `yaml:"optimizer"`
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	TestBatchSize  int     `yaml:"test_batch_size"`
	Seed           int64   `yaml:"seed"`
	CUDA           bool    `yaml:"cuda"`
	CUDADeviceID   int     `yaml:"cuda_device_id"`
	LogInterval    int     `yaml:"log_interval"`
	NumWorkers     int     `yaml:"num_workers"`
	TrainSamples   int     `yaml:"train_samples"`
	TestSamples    int     `yaml:"test_samples"`
	TrainSubset    int     `yaml:"train_subset"`
	Components     int     `yaml:"components"`
	Hidden         int     `yaml:"hidden"`
	ClipMargin     float64 `yaml:"clip_margin"`
	MNISTDir       string  `yaml:"mnist_dir"`
	ShardDir       string  `yaml:"shard_dir"`
	ResultDir      string  `yaml:"result_dir"`
	ExperimentName string  `yaml:"experiment_name"`
}

// Overrides captures CLI supplied values. A nil field is not set.
type Overrides struct {
	Net            *string
	Task           *string
	NLabels        *int
	CanvasSize     *int
	NDigits        *int
	LR             *float64
	Optimizer      *string
	Epochs         *int
	BatchSize      *int
	TestBatchSize  *int
	Seed           *int64
	CUDA           *bool
	CUDADeviceID   *int
	LogInterval    *int
	NumWorkers     *int
	TrainSamples   *int
	TestSamples    *int
	TrainSubset    *int
	Components     *int
	Hidden         *int
	ClipMargin     *float64
	MNISTDir       *string
	ShardDir       *string
	ResultDir      *string
	ExperimentName *string
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Net:           "spn",
		Task:          "multilabel",
		NLabels:       10,
		CanvasSize:    50,
		NDigits:       5,
		LR:            0.01,
		Optimizer:     "adam",
		Epochs:        10,
		BatchSize:     64,
		TestBatchSize: 1000,
		Seed:          1,
		LogInterval:   10,
		NumWorkers:    2,
		TrainSamples:  6000,
		TestSamples:   1000,
		Components:    32,
		Hidden:        64,
		ResultDir:     "results",
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
// The result is not validated; call Validate after applying overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := decode(f, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyOverrides updates c with every override that is set, including
// explicit zero values.
func (c *Config) ApplyOverrides(o Overrides) {
	set(&c.Net, o.Net)
	set(&c.Task, o.Task)
	set(&c.NLabels, o.NLabels)
	set(&c.CanvasSize, o.CanvasSize)
	set(&c.NDigits, o.NDigits)
	set(&c.LR, o.LR)
	set(&c.Optimizer, o.Optimizer)
	set(&c.Epochs, o.Epochs)
	set(&c.BatchSize, o.BatchSize)
	set(&c.TestBatchSize, o.TestBatchSize)
	set(&c.Seed, o.Seed)
	set(&c.CUDA, o.CUDA)
	set(&c.CUDADeviceID, o.CUDADeviceID)
	set(&c.LogInterval, o.LogInterval)
	set(&c.NumWorkers, o.NumWorkers)
	set(&c.TrainSamples, o.TrainSamples)
	set(&c.TestSamples, o.TestSamples)
	set(&c.TrainSubset, o.TrainSubset)
	set(&c.Components, o.Components)
	set(&c.Hidden, o.Hidden)
	set(&c.ClipMargin, o.ClipMargin)
	set(&c.MNISTDir, o.MNISTDir)
	set(&c.ShardDir, o.ShardDir)
	set(&c.ResultDir, o.ResultDir)
	set(&c.ExperimentName, o.ExperimentName)
}

func set[T any](dst, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.NLabels < 1 || c.NLabels > 10 {
		return fmt.Errorf("n_labels must be in [1, 10] (got %d)", c.NLabels)
	}
	if c.NDigits < 1 {
		return fmt.Errorf("n_digits must be > 0 (got %d)", c.NDigits)
	}
	if c.NDigits > c.NLabels {
		return fmt.Errorf("%w (n_digits=%d, n_labels=%d)", ErrDigitsExceedLabels, c.NDigits, c.NLabels)
	}
	switch c.Task {
	case "multilabel":
	case "single":
		if c.NDigits != 1 {
			return fmt.Errorf("task single needs n_digits=1 (got %d)", c.NDigits)
		}
	default:
		return fmt.Errorf("unknown task %q", c.Task)
	}
	if c.CanvasSize < 1 {
		return fmt.Errorf("canvas_size must be > 0 (got %d)", c.CanvasSize)
	}
	if c.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", c.LR)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.ShardDir == "" {
		if c.CanvasSize < mnistDigitSize {
			return fmt.Errorf("canvas_size must be >= %d to fit mnist digits (got %d)", mnistDigitSize, c.CanvasSize)
		}
		if c.TrainSamples <= 0 || c.TestSamples <= 0 {
			return fmt.Errorf("train_samples and test_samples must be > 0 (got %d, %d)", c.TrainSamples, c.TestSamples)
		}
		if c.TrainSubset > c.TrainSamples {
			return fmt.Errorf("train_subset %d exceeds train_samples %d", c.TrainSubset, c.TrainSamples)
		}
	}
	if c.TrainSubset < 0 {
		return fmt.Errorf("train_subset must be >= 0 (got %d)", c.TrainSubset)
	}
	if c.ClipMargin < 0 || c.ClipMargin >= 0.5 {
		return fmt.Errorf("clip_margin must be in [0, 0.5) (got %g)", c.ClipMargin)
	}
	if c.TestBatchSize <= 0 {
		c.TestBatchSize = c.BatchSize
	}
	if c.LogInterval <= 0 {
		c.LogInterval = 10
	}
	return nil
}

// RunDir names the directory a run started at now stores its output in.
func (c *Config) RunDir(now time.Time) string {
	tag := c.ExperimentName
	if tag == "" {
		tag = c.Net
	}
	return filepath.Join(c.ResultDir, now.Format("060102_1504")+"_"+tag)
}
