// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures a PrometheusSink.
type PrometheusConfig struct {
	// Namespace is the metric namespace prefix.
	Namespace string

	// Subsystem is the metric subsystem prefix.
	Subsystem string

	// Registry is the registerer to use. If nil, uses
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// LatencyBuckets are histogram bounds in milliseconds. If nil, the
	// shared default latency buckets are used.
	LatencyBuckets []float64
}

// DefaultPrometheusConfig returns a config with sensible defaults.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:      "loadbench",
		Subsystem:      "level",
		LatencyBuckets: stats.DefaultLatencyBucketsMs,
	}
}

// Validate checks the configuration.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace must not be empty")
	}
	for i, b := range c.LatencyBuckets {
		if i > 0 && b <= c.LatencyBuckets[i-1] {
			return fmt.Errorf("latency buckets must be strictly increasing at index %d", i)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

// PrometheusSink exports level results as Prometheus metrics.
//
// Description:
//
//	Each recorded level increments attempt counters (labeled by suite and
//	outcome), observes per-sample latencies into a histogram, and sets
//	gauges for throughput, efficiency, and success rate at the level's
//	load value.
//
// Thread Safety: safe for concurrent use.
type PrometheusSink struct {
	mu       sync.Mutex
	registry prometheus.Registerer
	closed   bool

	attemptsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
	throughput    *prometheus.GaugeVec
	successRate   *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewPrometheusSink creates and registers the sink's collectors.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.LatencyBuckets == nil {
		cfg.LatencyBuckets = DefaultPrometheusConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	sink := &PrometheusSink{registry: registry}

	sink.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "attempts_total",
			Help:      "Attempts recorded per suite, by outcome.",
		},
		[]string{"suite", "outcome"},
	)
	sink.latencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "latency_milliseconds",
			Help:      "Per-attempt latency of successful attempts.",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"suite"},
	)
	sink.throughput = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "throughput_per_second",
			Help:      "Successful attempts per second at the most recent level.",
		},
		[]string{"suite", "load"},
	)
	sink.successRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "success_rate",
			Help:      "Succeeded / attempted at the most recent level.",
		},
		[]string{"suite", "load"},
	)

	sink.collectors = []prometheus.Collector{
		sink.attemptsTotal,
		sink.latencyMs,
		sink.throughput,
		sink.successRate,
	}
	for _, c := range sink.collectors {
		if err := registry.Register(c); err != nil {
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}

	return sink, nil
}

// RecordLevel records one level's counters, gauges, and sample latencies.
func (s *PrometheusSink) RecordLevel(_ context.Context, data *LevelData) error {
	if data == nil || data.Result == nil {
		return ErrNilData
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()

	res := data.Result
	load := strconv.FormatFloat(res.Load, 'f', -1, 64)

	s.attemptsTotal.WithLabelValues(data.Suite, string(runner.OutcomeSuccess)).
		Add(float64(res.Succeeded))
	s.attemptsTotal.WithLabelValues(data.Suite, string(runner.OutcomeFailure)).
		Add(float64(res.Failed))
	s.throughput.WithLabelValues(data.Suite, load).Set(res.Throughput)
	s.successRate.WithLabelValues(data.Suite, load).Set(res.SuccessRate())

	hist := s.latencyMs.WithLabelValues(data.Suite)
	for _, sample := range res.Samples {
		if sample.Outcome == runner.OutcomeSuccess {
			hist.Observe(float64(sample.Latency) / float64(time.Millisecond))
		}
	}
	return nil
}

// Flush is a no-op: Prometheus metrics are pulled, not pushed.
func (s *PrometheusSink) Flush(context.Context) error { return nil }

// Close unregisters the collectors when the registerer supports it.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if registry, ok := s.registry.(*prometheus.Registry); ok {
		for _, c := range s.collectors {
			registry.Unregister(c)
		}
	}
	return nil
}

var _ Sink = (*PrometheusSink)(nil)
