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
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	// URL is the InfluxDB server URL.
	URL string

	// Token is the API token.
	Token string

	// Org is the InfluxDB organization.
	Org string

	// Bucket is the destination bucket.
	Bucket string

	// Measurement names the written measurement. Defaults to "bench_level".
	Measurement string
}

// Validate checks the configuration.
func (c *InfluxConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.Org == "" {
		return errors.New("org must not be empty")
	}
	if c.Bucket == "" {
		return errors.New("bucket must not be empty")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

// InfluxSink writes one point per level to InfluxDB.
//
// Points are tagged with the suite name and carry the level's load,
// counters, throughput, and latency summary as fields. Writes use the
// blocking API, so Flush has nothing to do.
type InfluxSink struct {
	mu          sync.Mutex
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	closed      bool
}

// NewInfluxSink connects a sink to the configured server and bucket.
func NewInfluxSink(config *InfluxConfig) (*InfluxSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	measurement := config.Measurement
	if measurement == "" {
		measurement = "bench_level"
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	return &InfluxSink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(config.Org, config.Bucket),
		measurement: measurement,
	}, nil
}

// RecordLevel writes the level as a single point.
func (s *InfluxSink) RecordLevel(ctx context.Context, data *LevelData) error {
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
	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddTag("suite", data.Suite).
		AddField("load", res.Load).
		AddField("attempted", res.Attempted).
		AddField("succeeded", res.Succeeded).
		AddField("failed", res.Failed).
		AddField("throughput", res.Throughput).
		AddField("success_rate", res.SuccessRate()).
		AddField("mean_latency_ms", res.Latency.Mean).
		AddField("max_latency_ms", res.Latency.Max).
		SetTime(ts)

	if p99, ok := res.Latency.Percentile(99); ok {
		p.AddField("p99_latency_ms", p99)
	}

	return s.writeAPI.WritePoint(ctx, p)
}

// Flush is a no-op: points are written synchronously.
func (s *InfluxSink) Flush(context.Context) error { return nil }

// Close shuts down the underlying client. Idempotent.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	return nil
}

var _ Sink = (*InfluxSink)(nil)
