// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes a target operation under controlled load and
// records per-attempt samples.
//
// Two execution modes are provided. RunBatch issues a fixed number of
// attempts in concurrency-capped groups, where each group completes before
// the next begins. RunTimed paces submissions against a token bucket for a
// fixed wall-clock window, bounds in-flight attempts with a weighted
// semaphore, and drains stragglers under a hard deadline.
//
// Operation failures are data: they are recorded as failed samples and are
// never propagated as run errors. A run itself only fails on invalid
// configuration.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/loadbench/services/bench/ratelimit"
	"github.com/AleutianAI/loadbench/services/bench/stats"
)

const (
	tracerName          = "loadbench/runner"
	defaultDrainTimeout = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner executes operations under batch or timed load.
//
// Thread Safety: a Runner is immutable after construction and safe for
// concurrent use. Each run keeps all mutable state local.
type Runner struct {
	logger       *slog.Logger
	tracer       trace.Tracer
	percentiles  []float64
	buckets      []float64
	drainTimeout time.Duration
	burst        float64
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithPercentiles overrides the latency percentiles computed per level.
func WithPercentiles(percentiles []float64) Option {
	return func(r *Runner) { r.percentiles = percentiles }
}

// WithHistogramBuckets overrides the latency histogram bounds (milliseconds).
func WithHistogramBuckets(bounds []float64) Option {
	return func(r *Runner) { r.buckets = bounds }
}

// WithDrainTimeout bounds how long RunTimed waits for in-flight attempts
// after the measurement window closes. Attempts still pending at expiry are
// recorded as failures with reason "drain_timeout".
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// WithBurst sets the pacing bucket capacity for RunTimed. The default of 1
// keeps timed admissions near rate * window; a larger burst lets short
// stalls be made up at the cost of submission spikes.
func WithBurst(b float64) Option {
	return func(r *Runner) {
		if b >= 1 {
			r.burst = b
		}
	}
}

// New constructs a Runner with the given options.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		percentiles:  stats.DefaultPercentiles,
		buckets:      stats.DefaultLatencyBucketsMs,
		drainTimeout: defaultDrainTimeout,
		burst:        1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// -----------------------------------------------------------------------------
// Batch mode
// -----------------------------------------------------------------------------

// RunBatch executes count attempts in groups of size concurrency.
//
// Description:
//
//	Attempts are issued in submission order and assigned contiguous
//	indices. Each group of up to concurrency attempts runs to completion
//	before the next group begins, so at most concurrency attempts are ever
//	in flight. Context cancellation stops submission of further groups;
//	attempts already in flight observe the cancelled context and their
//	outcomes are still recorded.
//
// Inputs:
//   - ctx: cancellation scope for the run.
//   - op: the target operation. Must not be nil.
//   - count: total attempts, > 0.
//   - concurrency: group size, > 0.
//
// Outputs:
//   - *LevelResult with Load set to the concurrency cap.
//   - error only for invalid configuration.
func (r *Runner) RunBatch(ctx context.Context, op Operation, count, concurrency int) (*LevelResult, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be > 0, got %d", ErrInvalidConfig, count)
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be > 0, got %d", ErrInvalidConfig, concurrency)
	}

	ctx, span := r.tracer.Start(ctx, "bench.run_batch", trace.WithAttributes(
		attribute.Int("bench.count", count),
		attribute.Int("bench.concurrency", concurrency),
	))
	defer span.End()

	r.logger.Info("batch run starting",
		"count", count,
		"concurrency", concurrency,
		"groups", ceilDiv(count, concurrency))

	rec := newRecorder(count)
	start := time.Now()

	next := 0
	for next < count {
		if ctx.Err() != nil {
			r.logger.Warn("batch run cancelled", "submitted", next, "count", count)
			break
		}
		group := concurrency
		if remaining := count - next; remaining < group {
			group = remaining
		}

		var wg sync.WaitGroup
		for i := 0; i < group; i++ {
			idx := next + i
			rec.begin(idx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.attempt(ctx, op, idx, rec)
			}()
		}
		wg.Wait()
		next += group
	}

	result := rec.close(time.Since(start), float64(concurrency), r.percentiles, r.buckets)

	span.SetAttributes(
		attribute.Int("bench.attempted", result.Attempted),
		attribute.Int("bench.failed", result.Failed),
	)
	span.SetStatus(codes.Ok, "")
	r.logger.Info("batch run complete",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"throughput", result.Throughput)
	return result, nil
}

// -----------------------------------------------------------------------------
// Timed mode
// -----------------------------------------------------------------------------

// RunTimed executes attempts paced at rate per second for the given window.
//
// Description:
//
//	Submissions draw tokens from a token bucket whose capacity is the
//	configured burst (default 1), so the attempt count stays within burst
//	tolerance of rate * window. At most
//	maxInFlight attempts run concurrently; when all slots are occupied the
//	submitter blocks until one frees. When the window closes, in-flight
//	attempts are drained under the configured drain timeout; attempts still
//	pending at expiry are recorded as failures with reason "drain_timeout"
//	and their eventual completions are discarded.
//
// Inputs:
//   - ctx: cancellation scope. Cancellation ends submission early; the
//     drain still runs so in-flight work is accounted for.
//   - op: the target operation. Must not be nil.
//   - rate: target submissions per second, > 0.
//   - window: measurement window, > 0.
//   - maxInFlight: in-flight cap, > 0.
//
// Outputs:
//   - *LevelResult with Load set to the target rate and Duration set to the
//     elapsed submission window.
//   - error only for invalid configuration.
func (r *Runner) RunTimed(ctx context.Context, op Operation, rate float64, window time.Duration, maxInFlight int) (*LevelResult, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: rate must be > 0, got %g", ErrInvalidConfig, rate)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidConfig, window)
	}
	if maxInFlight <= 0 {
		return nil, fmt.Errorf("%w: maxInFlight must be > 0, got %d", ErrInvalidConfig, maxInFlight)
	}

	bucket, err := ratelimit.NewBucket(rate, r.burst)
	if err != nil {
		return nil, fmt.Errorf("pacing bucket: %w", err)
	}

	ctx, span := r.tracer.Start(ctx, "bench.run_timed", trace.WithAttributes(
		attribute.Float64("bench.rate", rate),
		attribute.Int64("bench.window_ms", window.Milliseconds()),
		attribute.Int("bench.max_in_flight", maxInFlight),
	))
	defer span.End()

	r.logger.Info("timed run starting",
		"rate", rate,
		"window", window,
		"max_in_flight", maxInFlight)

	rec := newRecorder(int(rate * window.Seconds()))
	slots := semaphore.NewWeighted(int64(maxInFlight))

	// The submission loop stops at the window deadline even when the
	// caller's context outlives it.
	submitCtx, cancelSubmit := context.WithTimeout(ctx, window)
	defer cancelSubmit()

	var wg sync.WaitGroup
	start := time.Now()
	next := 0
	for {
		if err := bucket.Acquire(submitCtx); err != nil {
			break
		}
		if err := slots.Acquire(submitCtx, 1); err != nil {
			break
		}
		idx := next
		next++
		// Register the attempt at submission so a drain expiry cannot race
		// the goroutine start and lose the sample.
		rec.begin(idx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			r.attempt(ctx, op, idx, rec)
		}()
	}
	elapsed := time.Since(start)

	// Drain: wait for in-flight attempts up to the drain timeout, then
	// record remaining pending attempts as drain failures.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drainTimeout):
		expired := rec.expirePending()
		r.logger.Warn("drain timeout expired",
			"pending", expired,
			"drain_timeout", r.drainTimeout)
		span.SetAttributes(attribute.Int("bench.drain_expired", expired))
	}

	result := rec.close(elapsed, rate, r.percentiles, r.buckets)

	span.SetAttributes(
		attribute.Int("bench.attempted", result.Attempted),
		attribute.Int("bench.failed", result.Failed),
	)
	span.SetStatus(codes.Ok, "")
	r.logger.Info("timed run complete",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"throughput", result.Throughput)
	return result, nil
}

// attempt runs one measured invocation and records its sample. The attempt
// must already be registered with rec.begin by the submission loop.
func (r *Runner) attempt(ctx context.Context, op Operation, idx int, rec *recorder) {
	start := time.Now()
	res, err := op(ctx, idx)
	latency := time.Since(start)

	sample := Sample{
		Index:   idx,
		Latency: latency,
		Outcome: OutcomeSuccess,
		Cost:    res.Cost,
		HasCost: err == nil && res.HasCost,
	}
	if err != nil {
		sample.Outcome = OutcomeFailure
		sample.ErrorReason = err.Error()
		sample.Cost = 0
		sample.HasCost = false
	}
	rec.record(sample)
}

// -----------------------------------------------------------------------------
// Sample recorder
// -----------------------------------------------------------------------------

// recorder accumulates samples under a mutex. Once closed (either normally
// or by drain expiry) further completions are dropped so detached attempts
// cannot corrupt a finalized level.
type recorder struct {
	mu      sync.Mutex
	samples []Sample
	pending map[int]time.Time
	closed  bool
}

func newRecorder(hint int) *recorder {
	if hint < 0 {
		hint = 0
	}
	return &recorder{
		samples: make([]Sample, 0, hint),
		pending: make(map[int]time.Time),
	}
}

func (c *recorder) begin(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[idx] = time.Now()
}

func (c *recorder) record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delete(c.pending, s.Index)
	c.samples = append(c.samples, s)
}

// expirePending converts every in-flight attempt into a drain-timeout
// failure and closes the recorder. Returns the number expired.
func (c *recorder) expirePending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	now := time.Now()
	for idx, started := range c.pending {
		c.samples = append(c.samples, Sample{
			Index:       idx,
			Latency:     now.Sub(started),
			Outcome:     OutcomeFailure,
			ErrorReason: DrainTimeoutReason,
		})
	}
	expired := len(c.pending)
	c.pending = map[int]time.Time{}
	c.closed = true
	return expired
}

// close finalizes the level. Samples are sorted by submission index and
// the derived counters and distributions are computed.
func (c *recorder) close(elapsed time.Duration, load float64, percentiles, buckets []float64) *LevelResult {
	c.mu.Lock()
	c.closed = true
	samples := c.samples
	c.mu.Unlock()

	sort.Slice(samples, func(i, j int) bool { return samples[i].Index < samples[j].Index })
	result := &LevelResult{
		Load:     load,
		Duration: elapsed,
		Samples:  samples,
	}
	result.finalize(percentiles, buckets)
	return result
}
