// Package config resolves tickmirror settings.
//
// Precedence, lowest first: built-in defaults, the YAML config file, a
// dotenv file, the process environment. Command-line flags are applied on
// top by the cli package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tickmirror/internal/engine"
	"github.com/roach88/tickmirror/internal/pipeline"
	"github.com/roach88/tickmirror/internal/store"
)

// DefaultMirrorName is the name of the shared in-memory database.
const DefaultMirrorName = "db"

// DefaultDotenv is the dotenv file read when present.
const DefaultDotenv = ".env"

// Config holds every setting of a tickmirror process.
type Config struct {
	// Source is the persistent database to mirror (path or sqlite URI).
	Source string `yaml:"source" env:"DATABASE_URL"`
	// Mirror is the in-memory mirror URI. Defaults to MemoryURI("db", true).
	Mirror string `yaml:"mirror" env:"TICKMIRROR_MIRROR"`

	Interval      time.Duration `yaml:"interval" env:"TICKMIRROR_INTERVAL"`
	FailurePolicy string        `yaml:"failure_policy" env:"TICKMIRROR_FAILURE_POLICY"`
	MaxTicks      uint64        `yaml:"max_ticks" env:"TICKMIRROR_MAX_TICKS"`

	// Pipeline is an optional pipeline file replacing the built-in steps.
	Pipeline string          `yaml:"pipeline" env:"TICKMIRROR_PIPELINE"`
	Bounds   pipeline.Bounds `yaml:"bounds" envPrefix:"TICKMIRROR_BOUNDS_"`
	Debug    bool            `yaml:"debug" env:"TICKMIRROR_DEBUG"` // Print the debug projection to stdout.

	Pool store.Options `yaml:"pool" envPrefix:"TICKMIRROR_POOL_"`

	LogLevel    string `yaml:"log_level" env:"TICKMIRROR_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"TICKMIRROR_LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"TICKMIRROR_METRICS_ADDR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mirror:        store.MemoryURI(DefaultMirrorName, true),
		Interval:      engine.DefaultInterval,
		FailurePolicy: string(engine.PolicyHalt),
		Bounds:        pipeline.DefaultBounds(),
		Pool:          store.DefaultOptions(),
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load resolves the configuration. path names an optional YAML file and
// dotenv an optional dotenv file; a missing dotenv file is not an error,
// a missing config file is.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	environ, err := environment(dotenv)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// environment merges the dotenv file under the process environment.
func environment(dotenv string) (map[string]string, error) {
	environ := env.ToMap(os.Environ())
	if dotenv == "" {
		return environ, nil
	}

	values, err := godotenv.Read(dotenv)
	if errors.Is(err, os.ErrNotExist) {
		return environ, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dotenv %s: %w", dotenv, err)
	}
	for k, v := range values {
		if _, ok := environ[k]; !ok {
			environ[k] = v
		}
	}
	return environ, nil
}

// Validate checks that the configuration can start a run.
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source database is required (set --source or DATABASE_URL)")
	}
	if c.Mirror == "" {
		return fmt.Errorf("mirror URI is required")
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", c.Interval)
	}
	if _, err := engine.ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return nil
}

// Steps returns the pipeline steps: the pipeline file if set, otherwise the
// built-in steps bounded by c.Bounds.
func (c Config) Steps() ([]pipeline.Step, error) {
	if c.Pipeline != "" {
		return pipeline.LoadFile(c.Pipeline, c.Bounds)
	}
	return pipeline.DefaultSteps(c.Bounds), nil
}
