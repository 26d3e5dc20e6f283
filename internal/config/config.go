package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config holds the configuration for building and training a layer
type Config struct {
	// Metric is the diagonal of the algebra's quadratic form, e.g. [1,1,1]
	Metric            []float32 `json:"metric"`
	Features          int       `json:"features"`
	IncludeFirstOrder bool      `json:"include_first_order"`
	// NormalizationInit is nil for no normalization
	NormalizationInit *float64 `json:"normalization_init"`

	Seed           int64   `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	Steps          int     `json:"steps"`
	LearningRate   float64 `json:"learning_rate"`
	CheckpointPath string  `json:"checkpoint_path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	normInit := 0.0
	return &Config{
		Metric:            []float32{1, 1, 1},
		Features:          8,
		IncludeFirstOrder: true,
		NormalizationInit: &normInit,
		BatchSize:         16,
		Steps:             0,
		LearningRate:      0.01,
	}
}

// LoadConfig reads a JSON config on top of the defaults and applies opts.
// An empty path skips the file.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot build a layer
func (c *Config) Validate() error {
	if len(c.Metric) == 0 {
		return errors.New("metric must not be empty")
	}
	if c.Features <= 0 {
		return errors.Errorf("features must be positive, got %d", c.Features)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Steps < 0 {
		return errors.Errorf("steps must not be negative, got %d", c.Steps)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}
	return nil
}

// Option is a function that modifies the config
type Option func(*Config)

// WithMetric sets the algebra metric
func WithMetric(v []float32) Option {
	return func(c *Config) { c.Metric = append([]float32(nil), v...) }
}

// WithFeatures sets the channel count
func WithFeatures(v int) Option {
	return func(c *Config) { c.Features = v }
}

// WithFirstOrder toggles the linear residual term
func WithFirstOrder(v bool) Option {
	return func(c *Config) { c.IncludeFirstOrder = v }
}

// WithNormalizationInit sets the normalization init
func WithNormalizationInit(v float64) Option {
	return func(c *Config) { c.NormalizationInit = &v }
}

// WithoutNormalization disables the normalization
func WithoutNormalization() Option {
	return func(c *Config) { c.NormalizationInit = nil }
}

// WithSeed sets the initialisation seed (0 = time based)
func WithSeed(v int64) Option {
	return func(c *Config) { c.Seed = v }
}

// WithBatchSize sets the batch size
func WithBatchSize(v int) Option {
	return func(c *Config) { c.BatchSize = v }
}

// WithSteps sets the number of training steps
func WithSteps(v int) Option {
	return func(c *Config) { c.Steps = v }
}

// WithLearningRate sets the SGD learning rate
func WithLearningRate(v float64) Option {
	return func(c *Config) { c.LearningRate = v }
}

// WithCheckpointPath sets where checkpoints are written
func WithCheckpointPath(v string) Option {
	return func(c *Config) { c.CheckpointPath = v }
}
