// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sweep drives the benchmark runner across an ordered sequence of
// load levels and derives saturation, degradation, and breakpoint analysis
// from the per-level results.
//
// A sweep aborted by context cancellation keeps the levels already measured
// and reports the remainder as untested; it never extrapolates results for
// levels it did not run.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/telemetry"
)

const tracerName = "loadbench/sweep"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig indicates invalid sweep configuration.
	ErrInvalidConfig = errors.New("invalid sweep configuration")

	// ErrNoLevels indicates an empty load-level sequence.
	ErrNoLevels = errors.New("at least one load level is required")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Mode selects how each level is executed.
type Mode string

const (
	// ModeBatch runs a fixed attempt count per level, with the level's load
	// as the concurrency cap.
	ModeBatch Mode = "batch"

	// ModeTimed runs a fixed wall-clock window per level, with the level's
	// load as the target rate.
	ModeTimed Mode = "timed"
)

// Config describes how levels are executed.
type Config struct {
	// Mode is batch or timed.
	Mode Mode `yaml:"mode"`

	// Count is the attempt count per level. Batch mode only; must be > 0.
	Count int `yaml:"count"`

	// Window is the measurement window per level. Timed mode only; must
	// be > 0.
	Window time.Duration `yaml:"window"`

	// MaxInFlight caps concurrent attempts per level. Timed mode only;
	// must be > 0.
	MaxInFlight int `yaml:"max_in_flight"`

	// Cooldown is an optional pause between levels, letting the target
	// settle before the next measurement.
	Cooldown time.Duration `yaml:"cooldown"`
}

// UnmarshalYAML accepts Go duration syntax ("10s", "1m30s") for the window
// and cooldown fields. Fields absent from the document keep their current
// values, so decoding over a default Config merges rather than resets.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Mode        Mode   `yaml:"mode"`
		Count       int    `yaml:"count"`
		Window      string `yaml:"window"`
		MaxInFlight int    `yaml:"max_in_flight"`
		Cooldown    string `yaml:"cooldown"`
	}{
		Mode:        c.Mode,
		Count:       c.Count,
		MaxInFlight: c.MaxInFlight,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Mode = raw.Mode
	c.Count = raw.Count
	c.MaxInFlight = raw.MaxInFlight
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		c.Window = d
	}
	if raw.Cooldown != "" {
		d, err := time.ParseDuration(raw.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q: %w", raw.Cooldown, err)
		}
		c.Cooldown = d
	}
	return nil
}

// Validate checks mode-specific requirements.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeBatch:
		if c.Count <= 0 {
			return fmt.Errorf("count must be > 0 for batch mode, got %d", c.Count)
		}
	case ModeTimed:
		if c.Window <= 0 {
			return fmt.Errorf("window must be > 0 for timed mode, got %s", c.Window)
		}
		if c.MaxInFlight <= 0 {
			return fmt.Errorf("max_in_flight must be > 0 for timed mode, got %d", c.MaxInFlight)
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeBatch, ModeTimed, c.Mode)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Controller
// -----------------------------------------------------------------------------

// Result is a completed sweep: the measured levels in input order, the
// levels the sweep did not reach, and the derived analysis.
//
// Thread Safety: read-only after Sweep returns.
type Result struct {
	// Levels are the measured levels, ordered by load.
	Levels []*runner.LevelResult `json:"levels"`

	// Untested lists configured loads that were never run, in input order.
	Untested []float64 `json:"untested,omitempty"`

	// Analysis is derived from the measured levels only.
	Analysis Analysis `json:"analysis"`
}

// Controller executes sweeps.
//
// Thread Safety: immutable after construction; safe for concurrent sweeps.
type Controller struct {
	runner     *runner.Runner
	cfg        Config
	thresholds Thresholds
	suite      string
	logger     *slog.Logger
	tracer     trace.Tracer
	sink       telemetry.Sink
}

// Option configures a Controller.
type Option func(*Controller)

// WithSaturationDropFraction overrides the saturation threshold.
func WithSaturationDropFraction(f float64) Option {
	return func(c *Controller) { c.thresholds.SaturationDropFraction = f }
}

// WithSpikeFraction overrides the latency-spike threshold.
func WithSpikeFraction(f float64) Option {
	return func(c *Controller) { c.thresholds.SpikeFraction = f }
}

// WithDropFraction overrides the throughput-drop threshold.
func WithDropFraction(f float64) Option {
	return func(c *Controller) { c.thresholds.DropFraction = f }
}

// WithSuccessFloor overrides the degradation success floor.
func WithSuccessFloor(f float64) Option {
	return func(c *Controller) { c.thresholds.SuccessFloor = f }
}

// WithThresholds replaces all detection parameters at once.
func WithThresholds(t Thresholds) Option {
	return func(c *Controller) { c.thresholds = t }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer used for sweep spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithSink publishes each completed level to a telemetry sink. Sink errors
// are logged, never fatal to the sweep.
func WithSink(suite string, sink telemetry.Sink) Option {
	return func(c *Controller) {
		c.suite = suite
		c.sink = sink
	}
}

// New constructs a Controller over the given runner and level execution
// config.
func New(r *runner.Runner, cfg Config, opts ...Option) (*Controller, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: runner must not be nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	c := &Controller{
		runner:     r,
		cfg:        cfg,
		thresholds: DefaultThresholds(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sweep measures the operation at each load level in order.
//
// Description:
//
//	Levels must be positive and strictly increasing. Each level runs to
//	completion before the next begins, separated by the configured
//	cooldown. Context cancellation stops the sweep between levels: the
//	measured levels are kept, the rest are reported as untested, and no
//	error is returned. Analysis covers measured levels only.
//
// Inputs:
//   - ctx: cancellation scope for the whole sweep.
//   - op: the target operation. Must not be nil.
//   - levels: the ordered load sequence (rates in timed mode, concurrency
//     caps in batch mode).
//
// Outputs:
//   - *Result, or an error for invalid input.
func (c *Controller) Sweep(ctx context.Context, op runner.Operation, levels []float64) (*Result, error) {
	if op == nil {
		return nil, runner.ErrNilOperation
	}
	if len(levels) == 0 {
		return nil, ErrNoLevels
	}
	for i, lvl := range levels {
		if lvl <= 0 {
			return nil, fmt.Errorf("%w: level %d is %g, must be > 0", ErrInvalidConfig, i, lvl)
		}
		if i > 0 && lvl <= levels[i-1] {
			return nil, fmt.Errorf("%w: levels must be strictly increasing at index %d", ErrInvalidConfig, i)
		}
	}

	ctx, span := c.tracer.Start(ctx, "bench.sweep", trace.WithAttributes(
		attribute.String("bench.mode", string(c.cfg.Mode)),
		attribute.Int("bench.levels", len(levels)),
	))
	defer span.End()

	c.logger.Info("sweep starting",
		"mode", c.cfg.Mode,
		"levels", len(levels),
		"cooldown", c.cfg.Cooldown)

	result := &Result{Levels: make([]*runner.LevelResult, 0, len(levels))}
	for i, load := range levels {
		if ctx.Err() != nil {
			result.Untested = append(result.Untested, levels[i:]...)
			c.logger.Warn("sweep cancelled",
				"measured", len(result.Levels),
				"untested", len(result.Untested))
			break
		}
		if i > 0 && c.cfg.Cooldown > 0 {
			if err := sleepContext(ctx, c.cfg.Cooldown); err != nil {
				result.Untested = append(result.Untested, levels[i:]...)
				break
			}
		}

		lvl, err := c.runLevel(ctx, op, load)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("level %g: %w", load, err)
		}
		result.Levels = append(result.Levels, lvl)

		c.logger.Info("level complete",
			"load", load,
			"attempted", lvl.Attempted,
			"failed", lvl.Failed,
			"throughput", lvl.Throughput,
			"mean_latency_ms", lvl.Latency.Mean)

		c.publish(ctx, lvl)
	}

	result.Analysis = Analyze(result.Levels, c.thresholds)

	span.SetAttributes(
		attribute.Int("bench.measured", len(result.Levels)),
		attribute.Int("bench.untested", len(result.Untested)),
		attribute.Float64("bench.saturation_load", result.Analysis.SaturationLoad),
	)
	span.SetStatus(codes.Ok, "")
	c.logger.Info("sweep complete",
		"measured", len(result.Levels),
		"untested", len(result.Untested),
		"saturation_load", result.Analysis.SaturationLoad,
		"degradation_load", result.Analysis.DegradationLoad,
		"breakpoints", len(result.Analysis.Breakpoints))
	return result, nil
}

// runLevel executes one level in the configured mode.
func (c *Controller) runLevel(ctx context.Context, op runner.Operation, load float64) (*runner.LevelResult, error) {
	switch c.cfg.Mode {
	case ModeBatch:
		return c.runner.RunBatch(ctx, op, c.cfg.Count, int(load))
	case ModeTimed:
		return c.runner.RunTimed(ctx, op, load, c.cfg.Window, c.cfg.MaxInFlight)
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.cfg.Mode)
	}
}

// publish forwards a completed level to the sink, if any.
func (c *Controller) publish(ctx context.Context, lvl *runner.LevelResult) {
	if c.sink == nil {
		return
	}
	data := &telemetry.LevelData{
		Suite:     c.suite,
		Timestamp: time.Now(),
		Result:    lvl,
	}
	if err := c.sink.RecordLevel(ctx, data); err != nil {
		c.logger.Warn("telemetry sink rejected level", "load", lvl.Load, "error", err)
	}
}

// sleepContext waits d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
