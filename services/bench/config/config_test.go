// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/loadbench/services/bench/sweep"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
suite: checkout
category: writes
levels: [5, 10, 20]
run:
  mode: batch
  count: 50
thresholds:
  success_floor: 0.9
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Suite != "checkout" {
		t.Errorf("suite = %q, want checkout", cfg.Suite)
	}
	if cfg.Run.Mode != sweep.ModeBatch || cfg.Run.Count != 50 {
		t.Errorf("run = %+v, want batch mode count 50", cfg.Run)
	}
	if cfg.Thresholds.SuccessFloor != 0.9 {
		t.Errorf("success_floor = %g, want 0.9", cfg.Thresholds.SuccessFloor)
	}
	// Omitted fields keep defaults.
	if cfg.Thresholds.SpikeFraction != 0.5 {
		t.Errorf("spike_fraction = %g, want default 0.5", cfg.Thresholds.SpikeFraction)
	}
	if cfg.Artifacts.Backend != "fs" {
		t.Errorf("artifacts.backend = %q, want default fs", cfg.Artifacts.Backend)
	}
	if cfg.DrainTimeout.Std() != 30*time.Second {
		t.Errorf("drain_timeout = %s, want default 30s", cfg.DrainTimeout.Std())
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
run:
  window: 45s
  cooldown: 2s
drain_timeout: 1m30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.Window != 45*time.Second {
		t.Errorf("window = %s, want 45s", cfg.Run.Window)
	}
	if cfg.Run.Cooldown != 2*time.Second {
		t.Errorf("cooldown = %s, want 2s", cfg.Run.Cooldown)
	}
	if cfg.DrainTimeout.Std() != 90*time.Second {
		t.Errorf("drain_timeout = %s, want 1m30s", cfg.DrainTimeout.Std())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "drain_timeout: thirty\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "levels: [1, 2\n")
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestValidateRejections(t *testing.T) {
	base := DefaultConfig()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty suite", func(c *Config) { c.Suite = "" }},
		{"empty category", func(c *Config) { c.Category = "" }},
		{"no levels", func(c *Config) { c.Levels = nil }},
		{"negative level", func(c *Config) { c.Levels = []float64{-1, 2} }},
		{"non increasing levels", func(c *Config) { c.Levels = []float64{10, 10} }},
		{"batch without count", func(c *Config) { c.Run = sweep.Config{Mode: sweep.ModeBatch} }},
		{"success floor above one", func(c *Config) { c.Thresholds.SuccessFloor = 1.5 }},
		{"spike fraction zero", func(c *Config) { c.Thresholds.SpikeFraction = 0 }},
		{"zero drain timeout", func(c *Config) { c.DrainTimeout = 0 }},
		{"unknown backend", func(c *Config) { c.Artifacts.Backend = "s3" }},
		{"fs without path", func(c *Config) { c.Artifacts.Path = "" }},
		{"influx missing url", func(c *Config) {
			c.Telemetry.Influx = InfluxConfig{Enabled: true, Org: "o", Bucket: "b"}
		}},
		{"unknown trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
