// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suite

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/sweep"
)

func sampleLevel(load float64, latenciesMs []float64, failures int, costs []float64) *runner.LevelResult {
	lvl := &runner.LevelResult{
		Load:     load,
		Duration: time.Second,
	}
	idx := 0
	for _, ms := range latenciesMs {
		s := runner.Sample{
			Index:   idx,
			Latency: time.Duration(ms * float64(time.Millisecond)),
			Outcome: runner.OutcomeSuccess,
		}
		if idx < len(costs) {
			s.Cost = costs[idx]
			s.HasCost = true
		}
		lvl.Samples = append(lvl.Samples, s)
		lvl.Succeeded++
		lvl.Attempted++
		idx++
	}
	for i := 0; i < failures; i++ {
		lvl.Samples = append(lvl.Samples, runner.Sample{
			Index:       idx,
			Latency:     time.Millisecond,
			Outcome:     runner.OutcomeFailure,
			ErrorReason: "boom",
		})
		lvl.Failed++
		lvl.Attempted++
		idx++
	}
	lvl.Throughput = float64(lvl.Succeeded)
	return lvl
}

func TestNew_StampsIdentity(t *testing.T) {
	r, err := New("checkout")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		t.Fatalf("run ID %q is not a UUID: %v", r.RunID, err)
	}
	if r.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	if _, err := New(""); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("empty name: err = %v, want ErrEmptyName", err)
	}
}

func TestAddCategory_ComputesMetrics(t *testing.T) {
	r, err := New("checkout")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	levels := []*runner.LevelResult{
		sampleLevel(10, []float64{10, 20}, 1, []float64{1.5, 2.5}),
		sampleLevel(20, []float64{30, 40}, 0, nil),
	}
	r.AddCategory("authorization", levels)

	cat, ok := r.Categories["authorization"]
	if !ok {
		t.Fatal("category not added")
	}
	m := cat.Metrics
	if m.TotalAttempts != 5 || m.Succeeded != 4 || m.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 5/4/1", m.TotalAttempts, m.Succeeded, m.Failed)
	}
	if m.SuccessRate != 0.8 {
		t.Fatalf("success rate = %g, want 0.8", m.SuccessRate)
	}
	if m.Latency.Count != 4 {
		t.Fatalf("latency count = %d, want successes only (4)", m.Latency.Count)
	}
	if m.Latency.Mean != 25 {
		t.Fatalf("latency mean = %g, want 25", m.Latency.Mean)
	}
	if m.CostTotal != 4 {
		t.Fatalf("cost total = %g, want 4", m.CostTotal)
	}
	if m.Cost == nil || m.Cost.Count != 2 {
		t.Fatalf("cost distribution = %+v, want 2 entries", m.Cost)
	}
	if len(cat.Samples) != 5 {
		t.Fatalf("samples = %d, want 5", len(cat.Samples))
	}
	if len(cat.LevelResults) != 2 {
		t.Fatalf("level results = %d, want 2", len(cat.LevelResults))
	}
}

func TestFromSweep_CarriesAnalysisAndUntested(t *testing.T) {
	res := &sweep.Result{
		Levels:   []*runner.LevelResult{sampleLevel(10, []float64{5}, 0, nil)},
		Untested: []float64{20, 40},
		Analysis: sweep.Analysis{SaturationLoad: 10, DegradationLoad: 10},
	}

	r, err := FromSweep("scalability", "default", res)
	if err != nil {
		t.Fatalf("FromSweep: %v", err)
	}
	if r.Analysis == nil || r.Analysis.SaturationLoad != 10 {
		t.Fatalf("analysis = %+v, want saturation load 10", r.Analysis)
	}
	if len(r.Untested) != 2 {
		t.Fatalf("untested = %v, want two levels", r.Untested)
	}
	if _, ok := r.Categories["default"]; !ok {
		t.Fatal("sweep category missing")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r, err := New("security-tests")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.AddCategory("access", []*runner.LevelResult{sampleLevel(5, []float64{1, 2, 3}, 1, nil)})

	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Name != r.Name || decoded.RunID != r.RunID {
		t.Fatalf("identity changed: %q/%q -> %q/%q", r.Name, r.RunID, decoded.Name, decoded.RunID)
	}
	got := decoded.Categories["access"].Metrics
	want := r.Categories["access"].Metrics
	if got.TotalAttempts != want.TotalAttempts || got.SuccessRate != want.SuccessRate {
		t.Fatalf("metrics changed in round trip: %+v vs %+v", got, want)
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"garbage", "{not json"},
		{"missing name", `{"timestamp":"2026-01-02T03:04:05Z","categories":{}}`},
		{"missing timestamp", `{"name":"x","categories":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); !errors.Is(err, ErrMalformedReport) {
				t.Fatalf("err = %v, want ErrMalformedReport", err)
			}
		})
	}
}

func TestArtifactName_RoundTrip(t *testing.T) {
	r, err := New("security-tests")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Timestamp = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	key := r.ArtifactName()
	if key != "security-tests-20260314T092653Z.json" {
		t.Fatalf("artifact name = %q", key)
	}

	suite, ts, err := ParseArtifactName(key)
	if err != nil {
		t.Fatalf("ParseArtifactName: %v", err)
	}
	if suite != "security-tests" {
		t.Fatalf("suite = %q, hyphenated names must survive", suite)
	}
	if !ts.Equal(r.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", ts, r.Timestamp)
	}

	if _, _, err := ParseArtifactName("no-suffix"); err == nil {
		t.Fatal("expected error for missing .json suffix")
	}
	if _, _, err := ParseArtifactName("bad.json"); err == nil {
		t.Fatal("expected error for missing timestamp")
	}
}
