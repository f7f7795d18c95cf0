// Package config loads service settings from defaults, an optional YAML file
// and the environment. Command-line flags are applied on top by cmd/server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/clothing-api/internal/classifier"
	"github.com/Brownie44l1/clothing-api/internal/fetch"
	"github.com/Brownie44l1/clothing-api/internal/model"
)

// Environment variables read by Load.
const (
	EnvModelName   = "MODEL_NAME"
	EnvPort        = "PORT"
	EnvLibraryPath = "ONNXRUNTIME_LIB"
	EnvWorkers     = "MODEL_WORKERS"
)

type Config struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Model           ModelConfig   `yaml:"model"`
	Fetch           FetchConfig   `yaml:"fetch"`
}

type ModelConfig struct {
	Path        string `yaml:"path"`
	LibraryPath string `yaml:"library_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	ImageSize   int    `yaml:"image_size"`
	Workers     int    `yaml:"workers"`
}

type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	Retries   int           `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
	MaxPixels int64         `yaml:"max_pixels"` // width*height limit for decoded images
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		Model: ModelConfig{
			Path:      "clothing-model.onnx",
			ImageSize: 224,
			Workers:   2,
		},
		Fetch: FetchConfig{
			Timeout:   5 * time.Second,
			MaxBytes:  10 << 20,
			Retries:   2,
			Backoff:   200 * time.Millisecond,
			MaxPixels: 40_000_000,
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment
// overrides. A missing file is an error; an empty path is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvModelName); ok && v != "" {
		c.Model.Path = v
	}
	if v, ok := lookup(EnvLibraryPath); ok && v != "" {
		c.Model.LibraryPath = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		c.Model.Workers = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model path cannot be empty"))
	}
	if c.Model.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("image size must be positive, got %d", c.Model.ImageSize))
	}
	if c.Model.Workers <= 0 {
		errs = append(errs, fmt.Errorf("model workers must be positive, got %d", c.Model.Workers))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, errors.New("fetch max bytes must be positive"))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, errors.New("fetch retries cannot be negative"))
	}
	if c.Fetch.MaxPixels <= 0 {
		errs = append(errs, errors.New("fetch max pixels must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c *Config) ModelOptions() model.Options {
	return model.Options{
		Path:        c.Model.Path,
		LibraryPath: c.Model.LibraryPath,
		InputName:   c.Model.InputName,
		OutputName:  c.Model.OutputName,
		ImageSize:   c.Model.ImageSize,
		Workers:     c.Model.Workers,
		Classes:     model.Labels,
	}
}

func (c *Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		ImageSize: c.Model.ImageSize,
		MaxPixels: c.Fetch.MaxPixels,
	}
}

func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:  c.Fetch.Timeout,
		MaxBytes: c.Fetch.MaxBytes,
		Retries:  c.Fetch.Retries,
		Backoff:  c.Fetch.Backoff,
	}
}
