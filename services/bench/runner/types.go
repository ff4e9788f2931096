// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/AleutianAI/loadbench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig indicates invalid runner parameters.
	ErrInvalidConfig = errors.New("invalid runner configuration")

	// ErrNilOperation indicates a nil target operation.
	ErrNilOperation = errors.New("operation must not be nil")
)

// DrainTimeoutReason marks samples whose attempts outlived the drain window.
const DrainTimeoutReason = "drain_timeout"

// -----------------------------------------------------------------------------
// Target operation contract
// -----------------------------------------------------------------------------

// Result carries the optional cost metric reported by a successful attempt.
type Result struct {
	// Cost is a non-negative resource charge (e.g. a unit price or fee).
	Cost float64

	// HasCost reports whether Cost is meaningful.
	HasCost bool
}

// Operation is the target under measurement.
//
// Description:
//
//	An Operation receives the attempt index (assigned in submission order)
//	and either succeeds, optionally reporting a cost, or fails with a
//	descriptive error. The runner records failures as data and never
//	propagates them.
//
// Assumptions:
//   - Operations must be safe to invoke concurrently; the runner performs
//     no serialization on the caller's behalf.
type Operation func(ctx context.Context, attempt int) (Result, error)

// WithDelay wraps an operation with a submission-side delay, injected per
// attempt. This is the supported way to simulate contention; the runner
// itself never sleeps on behalf of the target.
func WithDelay(op Operation, delay func(attempt int) time.Duration) Operation {
	return func(ctx context.Context, attempt int) (Result, error) {
		if d := delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}
		return op(ctx, attempt)
	}
}

// -----------------------------------------------------------------------------
// Samples and level results
// -----------------------------------------------------------------------------

// Outcome classifies a recorded attempt.
type Outcome string

const (
	// OutcomeSuccess marks an attempt that completed without error.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure marks an attempt that returned an error or timed out
	// during drain.
	OutcomeFailure Outcome = "failure"
)

// Sample records one attempt. Immutable once recorded.
type Sample struct {
	// Index is the attempt's sequence number within its level, assigned in
	// submission order.
	Index int `json:"index"`

	// Latency is the observed wall-clock duration of the attempt.
	Latency time.Duration `json:"latency"`

	// Outcome is success or failure.
	Outcome Outcome `json:"outcome"`

	// Cost is the reported cost metric, present only when HasCost is set.
	Cost float64 `json:"cost,omitempty"`

	// HasCost reports whether Cost is meaningful.
	HasCost bool `json:"hasCost,omitempty"`

	// ErrorReason describes the failure. Present iff Outcome is failure.
	ErrorReason string `json:"errorReason,omitempty"`
}

// LevelResult summarizes one load level.
//
// Invariants: Attempted == Succeeded + Failed, and Throughput is
// Succeeded divided by the wall-clock duration.
type LevelResult struct {
	// Load is the level's load parameter: a rate for timed runs, a
	// concurrency cap for batch runs.
	Load float64 `json:"load"`

	// Attempted, Succeeded, Failed count recorded attempts.
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Duration is the wall-clock duration of the level.
	Duration time.Duration `json:"duration"`

	// Throughput is successful attempts per second of wall-clock time.
	Throughput float64 `json:"throughput"`

	// Latency summarizes successful samples' latencies in milliseconds.
	Latency stats.Distribution `json:"latency"`

	// Cost summarizes reported cost metrics, when any attempt carried one.
	Cost *stats.Distribution `json:"cost,omitempty"`

	// Samples holds every recorded attempt, ordered by index.
	Samples []Sample `json:"samples"`
}

// MeanLatencyMs returns the mean successful latency in milliseconds.
func (r *LevelResult) MeanLatencyMs() float64 {
	return r.Latency.Mean
}

// SuccessRate returns Succeeded / Attempted, or 0 for an empty level.
func (r *LevelResult) SuccessRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Attempted)
}

// Efficiency returns achieved throughput relative to offered load.
func (r *LevelResult) Efficiency() float64 {
	if r.Load <= 0 {
		return 0
	}
	return r.Throughput / r.Load
}

// finalize derives counters and distributions from recorded samples.
func (r *LevelResult) finalize(percentiles, buckets []float64) {
	latencies := make([]float64, 0, len(r.Samples))
	var costs []float64

	for _, s := range r.Samples {
		r.Attempted++
		if s.Outcome == OutcomeSuccess {
			r.Succeeded++
			latencies = append(latencies, durationMs(s.Latency))
		} else {
			r.Failed++
		}
		if s.HasCost {
			costs = append(costs, s.Cost)
		}
	}

	if r.Duration > 0 {
		r.Throughput = float64(r.Succeeded) / r.Duration.Seconds()
	}

	r.Latency = stats.Summarize(latencies, percentiles, buckets)
	if len(costs) > 0 {
		cost := stats.Summarize(costs, percentiles, nil)
		r.Cost = &cost
	}
}

// durationMs converts a duration to fractional milliseconds.
func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ceilDiv returns ceil(a / b) for positive b.
func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}
