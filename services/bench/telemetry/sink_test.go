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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/stats"
)

// recordingSink captures recorded levels for assertions.
type recordingSink struct {
	levels  []*LevelData
	failErr error
}

func (r *recordingSink) RecordLevel(_ context.Context, data *LevelData) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.levels = append(r.levels, data)
	return nil
}

func (r *recordingSink) Flush(context.Context) error { return nil }
func (r *recordingSink) Close() error                { return nil }

func testLevelData() *LevelData {
	samples := []runner.Sample{
		{Index: 0, Latency: 10 * time.Millisecond, Outcome: runner.OutcomeSuccess},
		{Index: 1, Latency: 20 * time.Millisecond, Outcome: runner.OutcomeSuccess},
		{Index: 2, Latency: 5 * time.Millisecond, Outcome: runner.OutcomeFailure, ErrorReason: "boom"},
	}
	return &LevelData{
		Suite:     "checkout",
		Timestamp: time.Now(),
		Result: &runner.LevelResult{
			Load:       50,
			Attempted:  3,
			Succeeded:  2,
			Failed:     1,
			Duration:   time.Second,
			Throughput: 2,
			Latency:    stats.Summarize([]float64{10, 20}, stats.DefaultPercentiles, nil),
			Samples:    samples,
		},
	}
}

func TestCompositeSink_FansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	composite, err := NewCompositeSink(a, b)
	require.NoError(t, err)

	data := testLevelData()
	require.NoError(t, composite.RecordLevel(context.Background(), data))
	assert.Len(t, a.levels, 1)
	assert.Len(t, b.levels, 1)
}

func TestCompositeSink_CollectsChildErrors(t *testing.T) {
	failing := &recordingSink{failErr: errors.New("backend down")}
	healthy := &recordingSink{}
	composite, err := NewCompositeSink(failing, healthy)
	require.NoError(t, err)

	err = composite.RecordLevel(context.Background(), testLevelData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Len(t, healthy.levels, 1, "healthy sink still records when a sibling fails")
}

func TestCompositeSink_ClosedSemantics(t *testing.T) {
	composite, err := NewCompositeSink(&recordingSink{})
	require.NoError(t, err)

	require.NoError(t, composite.Close())
	require.NoError(t, composite.Close(), "close is idempotent")

	err = composite.RecordLevel(context.Background(), testLevelData())
	assert.ErrorIs(t, err, ErrSinkClosed)
}

func TestCompositeSink_RequiresChildren(t *testing.T) {
	_, err := NewCompositeSink()
	assert.ErrorIs(t, err, ErrNoSinks)
}

func TestNoOpSink_RejectsNilData(t *testing.T) {
	sink := NewNoOpSink()
	assert.ErrorIs(t, sink.RecordLevel(context.Background(), nil), ErrNilData)
	assert.NoError(t, sink.RecordLevel(context.Background(), testLevelData()))
}

func TestPrometheusSink_RecordsLevel(t *testing.T) {
	registry := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = registry

	sink, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.RecordLevel(context.Background(), testLevelData()))

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				for _, l := range m.GetLabel() {
					if l.GetName() == "outcome" {
						byName[mf.GetName()+":"+l.GetValue()] = m.GetCounter().GetValue()
					}
				}
			}
		}
	}
	assert.Equal(t, 2.0, byName["loadbench_level_attempts_total:success"])
	assert.Equal(t, 1.0, byName["loadbench_level_attempts_total:failure"])
}

func TestPrometheusSink_ConfigValidation(t *testing.T) {
	_, err := NewPrometheusSink(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultPrometheusConfig()
	bad.Namespace = ""
	_, err = NewPrometheusSink(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	unsorted := DefaultPrometheusConfig()
	unsorted.LatencyBuckets = []float64{10, 5}
	_, err = NewPrometheusSink(unsorted)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPrometheusSink_ClosedSemantics(t *testing.T) {
	cfg := DefaultPrometheusConfig()
	cfg.Registry = prometheus.NewRegistry()
	sink, err := NewPrometheusSink(cfg)
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.RecordLevel(context.Background(), testLevelData()), ErrSinkClosed)
}

func TestInfluxConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  InfluxConfig
		ok   bool
	}{
		{"complete", InfluxConfig{URL: "http://localhost:8086", Org: "bench", Bucket: "levels"}, true},
		{"missing url", InfluxConfig{Org: "bench", Bucket: "levels"}, false},
		{"missing org", InfluxConfig{URL: "http://localhost:8086", Bucket: "levels"}, false},
		{"missing bucket", InfluxConfig{URL: "http://localhost:8086", Org: "bench"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

var _ Sink = (*recordingSink)(nil)
