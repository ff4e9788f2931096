// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the YAML run configuration for the
// loadbench CLI. Configuration is passed explicitly to the components that
// need it; there is no package-level state.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/loadbench/services/bench/sweep"
)

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration accepts Go duration syntax ("30s", "1m30s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// -----------------------------------------------------------------------------
// Structure
// -----------------------------------------------------------------------------

// ArtifactConfig selects where suite reports are persisted.
type ArtifactConfig struct {
	// Backend is "fs" or "badger".
	Backend string `yaml:"backend"`

	// Path is the directory for the chosen backend.
	Path string `yaml:"path"`
}

// PrometheusConfig enables the Prometheus level sink.
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// InfluxConfig enables the InfluxDB level sink.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// TelemetryConfig selects the metric sinks and trace exporters.
type TelemetryConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Influx     InfluxConfig     `yaml:"influx"`

	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter"`

	// OTLPEndpoint is the OTLP receiver for traces.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`
}

// Config is the full run configuration.
type Config struct {
	// Suite names the benchmark suite; it prefixes persisted artifacts.
	Suite string `yaml:"suite"`

	// Category labels the report section the sweep's results land in.
	Category string `yaml:"category"`

	// Levels is the ordered load sequence (rates in timed mode,
	// concurrency caps in batch mode).
	Levels []float64 `yaml:"levels"`

	// Run controls per-level execution.
	Run sweep.Config `yaml:"run"`

	// Thresholds tunes the sweep analysis. Zero values fall back to the
	// defaults at load time.
	Thresholds sweep.Thresholds `yaml:"thresholds"`

	// DrainTimeout bounds the post-window drain in timed mode.
	DrainTimeout Duration `yaml:"drain_timeout"`

	Artifacts ArtifactConfig  `yaml:"artifacts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns a runnable timed-mode configuration.
func DefaultConfig() Config {
	return Config{
		Suite:    "default",
		Category: "default",
		Levels:   []float64{10, 20, 40, 80},
		Run: sweep.Config{
			Mode:        sweep.ModeTimed,
			Window:      10 * time.Second,
			MaxInFlight: 64,
			Cooldown:    time.Second,
		},
		Thresholds:   sweep.DefaultThresholds(),
		DrainTimeout: Duration(30 * time.Second),
		Artifacts: ArtifactConfig{
			Backend: "fs",
			Path:    "./results",
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults, so omitted fields keep their
// default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %s", ErrInvalidConfig, path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued analysis thresholds.
func (c *Config) applyDefaults() {
	def := sweep.DefaultThresholds()
	if c.Thresholds.SaturationDropFraction == 0 {
		c.Thresholds.SaturationDropFraction = def.SaturationDropFraction
	}
	if c.Thresholds.SpikeFraction == 0 {
		c.Thresholds.SpikeFraction = def.SpikeFraction
	}
	if c.Thresholds.DropFraction == 0 {
		c.Thresholds.DropFraction = def.DropFraction
	}
	if c.Thresholds.SuccessFloor == 0 {
		c.Thresholds.SuccessFloor = def.SuccessFloor
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = Duration(30 * time.Second)
	}
}

// Validate checks the whole configuration. Messages name the offending
// field and value; nothing is silently clamped.
func (c *Config) Validate() error {
	if c.Suite == "" {
		return fmt.Errorf("%w: suite must not be empty", ErrInvalidConfig)
	}
	if c.Category == "" {
		return fmt.Errorf("%w: category must not be empty", ErrInvalidConfig)
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("%w: at least one load level is required", ErrInvalidConfig)
	}
	for i, lvl := range c.Levels {
		if lvl <= 0 {
			return fmt.Errorf("%w: level %d is %g, must be > 0", ErrInvalidConfig, i, lvl)
		}
		if i > 0 && lvl <= c.Levels[i-1] {
			return fmt.Errorf("%w: levels must be strictly increasing at index %d", ErrInvalidConfig, i)
		}
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("%w: run: %s", ErrInvalidConfig, err)
	}
	if err := validateFraction("saturation_drop_fraction", c.Thresholds.SaturationDropFraction); err != nil {
		return err
	}
	if err := validateFraction("drop_fraction", c.Thresholds.DropFraction); err != nil {
		return err
	}
	if c.Thresholds.SpikeFraction <= 0 {
		return fmt.Errorf("%w: spike_fraction must be > 0, got %g", ErrInvalidConfig, c.Thresholds.SpikeFraction)
	}
	if c.Thresholds.SuccessFloor <= 0 || c.Thresholds.SuccessFloor > 1 {
		return fmt.Errorf("%w: success_floor must be in (0, 1], got %g", ErrInvalidConfig, c.Thresholds.SuccessFloor)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("%w: drain_timeout must be > 0, got %s", ErrInvalidConfig, c.DrainTimeout.Std())
	}

	switch c.Artifacts.Backend {
	case "fs", "badger":
		if c.Artifacts.Path == "" {
			return fmt.Errorf("%w: artifacts.path must not be empty", ErrInvalidConfig)
		}
	case "":
		return fmt.Errorf("%w: artifacts.backend must be \"fs\" or \"badger\"", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown artifacts.backend %q", ErrInvalidConfig, c.Artifacts.Backend)
	}

	if c.Telemetry.Influx.Enabled {
		if c.Telemetry.Influx.URL == "" || c.Telemetry.Influx.Org == "" || c.Telemetry.Influx.Bucket == "" {
			return fmt.Errorf("%w: influx sink requires url, org, and bucket", ErrInvalidConfig)
		}
	}
	switch c.Telemetry.TraceExporter {
	case "", "none", "otlp", "stdout":
	default:
		return fmt.Errorf("%w: unknown trace_exporter %q", ErrInvalidConfig, c.Telemetry.TraceExporter)
	}
	return nil
}

func validateFraction(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%w: %s must be in (0, 1), got %g", ErrInvalidConfig, name, v)
	}
	return nil
}
