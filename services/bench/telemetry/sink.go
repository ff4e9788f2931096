// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports benchmark results to metric backends.
//
// A Sink receives one LevelData per completed load level. Implementations
// exist for Prometheus and InfluxDB; CompositeSink fans out to several
// backends and NoOpSink discards everything.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/loadbench/services/bench/runner"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilData is returned when nil data is provided to a recording method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrInvalidConfig is returned for invalid sink configuration.
	ErrInvalidConfig = errors.New("invalid sink configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// LevelData is the unit of telemetry: one completed load level.
//
// Thread Safety: immutable after creation; safe for concurrent reads.
type LevelData struct {
	// Suite identifies the benchmark suite the level belongs to.
	Suite string

	// Timestamp is when the level completed.
	Timestamp time.Time

	// Result is the finalized level summary. Must not be nil.
	Result *runner.LevelResult
}

// Sink receives per-level benchmark telemetry.
//
// Description:
//
//	Sink is the export abstraction for benchmark metrics. Implementations
//	handle the backend specifics (Prometheus, InfluxDB, ...). All
//	implementations must be safe for concurrent use, and recording methods
//	must return ErrSinkClosed after Close.
type Sink interface {
	// RecordLevel records the metrics of one completed load level.
	RecordLevel(ctx context.Context, data *LevelData) error

	// Flush forces export of any buffered data.
	Flush(ctx context.Context) error

	// Close flushes and releases resources. Idempotent.
	Close() error
}

// -----------------------------------------------------------------------------
// Composite sink
// -----------------------------------------------------------------------------

// CompositeSink forwards every record to a set of child sinks, collecting
// per-child errors with errors.Join rather than stopping at the first.
type CompositeSink struct {
	mu     sync.RWMutex
	sinks  []Sink
	closed bool
}

// NewCompositeSink creates a composite over the given children.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: sinks}, nil
}

// RecordLevel forwards the level to all child sinks.
func (c *CompositeSink) RecordLevel(ctx context.Context, data *LevelData) error {
	if data == nil {
		return ErrNilData
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.RecordLevel(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all child sinks concurrently.
func (c *CompositeSink) Flush(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(sinks))
	for _, sink := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				errChan <- err
			}
		}(sink)
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes all child sinks. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-op sink
// -----------------------------------------------------------------------------

// NoOpSink accepts and discards all telemetry. Useful as a default when no
// backend is configured.
type NoOpSink struct{}

// NewNoOpSink creates a sink that discards everything.
func NewNoOpSink() *NoOpSink { return &NoOpSink{} }

// RecordLevel discards the data.
func (n *NoOpSink) RecordLevel(_ context.Context, data *LevelData) error {
	if data == nil {
		return ErrNilData
	}
	return nil
}

// Flush does nothing.
func (n *NoOpSink) Flush(context.Context) error { return nil }

// Close does nothing.
func (n *NoOpSink) Close() error { return nil }

// Verify interface compliance at compile time.
var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NoOpSink)(nil)
)
