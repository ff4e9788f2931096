// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suite builds and serializes the durable artifact of one benchmark
// run: a named report with per-category samples, level results, and a
// computed metrics summary.
//
// The JSON field names and nesting are a stable contract consumed by the
// aggregator; changing them breaks every previously persisted artifact.
package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/stats"
	"github.com/AleutianAI/loadbench/services/bench/sweep"
)

// artifactTimeLayout is the compact timestamp embedded in artifact names.
// It sorts lexicographically and contains no filesystem-hostile characters.
const artifactTimeLayout = "20060102T150405Z"

var (
	// ErrEmptyName indicates a report without a suite name.
	ErrEmptyName = errors.New("suite name must not be empty")

	// ErrMalformedReport indicates a document that does not decode into a
	// valid report.
	ErrMalformedReport = errors.New("malformed suite report")
)

// -----------------------------------------------------------------------------
// Report structure
// -----------------------------------------------------------------------------

// Metrics is the computed summary of one category.
type Metrics struct {
	// TotalAttempts, Succeeded, Failed count attempts across the
	// category's levels.
	TotalAttempts int `json:"totalAttempts"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`

	// SuccessRate is Succeeded / TotalAttempts, 0 for an empty category.
	SuccessRate float64 `json:"successRate"`

	// Latency summarizes successful sample latencies (milliseconds) across
	// all the category's levels.
	Latency stats.Distribution `json:"latency"`

	// CostTotal is the sum of reported cost metrics; Cost is their
	// distribution. Both omitted when no attempt carried a cost.
	CostTotal float64             `json:"costTotal,omitempty"`
	Cost      *stats.Distribution `json:"cost,omitempty"`
}

// Category is one section of a report.
type Category struct {
	// Samples are the category's raw per-attempt records.
	Samples []runner.Sample `json:"samples"`

	// LevelResults are the category's per-level summaries, in load order.
	LevelResults []runner.LevelResult `json:"levelResults"`

	// Metrics is the computed category summary.
	Metrics Metrics `json:"metrics"`
}

// Report is the artifact produced by one benchmark suite run. Read-only
// once persisted.
type Report struct {
	// Name identifies the suite.
	Name string `json:"name"`

	// RunID uniquely identifies this run of the suite.
	RunID string `json:"runId"`

	// Timestamp is when the run completed.
	Timestamp time.Time `json:"timestamp"`

	// Categories maps category name to its section.
	Categories map[string]Category `json:"categories"`

	// Analysis carries the sweep's derived series metrics, when the report
	// came from a sweep.
	Analysis *sweep.Analysis `json:"analysis,omitempty"`

	// Untested lists configured loads the sweep never ran.
	Untested []float64 `json:"untested,omitempty"`
}

// New creates an empty report stamped with a fresh run ID and the current
// time.
func New(name string) (*Report, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	return &Report{
		Name:       name,
		RunID:      uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Categories: make(map[string]Category),
	}, nil
}

// FromSweep builds a single-category report from a completed sweep.
func FromSweep(name, category string, res *sweep.Result) (*Report, error) {
	r, err := New(name)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: nil sweep result", ErrMalformedReport)
	}

	r.AddCategory(category, res.Levels)
	analysis := res.Analysis
	r.Analysis = &analysis
	r.Untested = res.Untested
	return r, nil
}

// AddCategory appends a category computed from the given levels, replacing
// any category of the same name.
func (r *Report) AddCategory(name string, levels []*runner.LevelResult) {
	cat := Category{
		Samples:      make([]runner.Sample, 0),
		LevelResults: make([]runner.LevelResult, 0, len(levels)),
	}

	var latencies, costs []float64
	for _, lvl := range levels {
		if lvl == nil {
			continue
		}
		cat.LevelResults = append(cat.LevelResults, *lvl)
		cat.Samples = append(cat.Samples, lvl.Samples...)

		cat.Metrics.TotalAttempts += lvl.Attempted
		cat.Metrics.Succeeded += lvl.Succeeded
		cat.Metrics.Failed += lvl.Failed
		for _, s := range lvl.Samples {
			if s.Outcome == runner.OutcomeSuccess {
				latencies = append(latencies, float64(s.Latency)/float64(time.Millisecond))
			}
			if s.HasCost {
				costs = append(costs, s.Cost)
				cat.Metrics.CostTotal += s.Cost
			}
		}
	}

	if cat.Metrics.TotalAttempts > 0 {
		cat.Metrics.SuccessRate = float64(cat.Metrics.Succeeded) / float64(cat.Metrics.TotalAttempts)
	}
	cat.Metrics.Latency = stats.Summarize(latencies, stats.DefaultPercentiles, stats.DefaultLatencyBucketsMs)
	if len(costs) > 0 {
		cost := stats.Summarize(costs, stats.DefaultPercentiles, nil)
		cat.Metrics.Cost = &cost
	}

	if r.Categories == nil {
		r.Categories = make(map[string]Category)
	}
	r.Categories[name] = cat
}

// -----------------------------------------------------------------------------
// Serialization
// -----------------------------------------------------------------------------

// Encode renders the report as indented JSON.
func (r *Report) Encode() ([]byte, error) {
	if r.Name == "" {
		return nil, ErrEmptyName
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report %q: %w", r.Name, err)
	}
	return data, nil
}

// Decode parses a persisted report, rejecting documents without a name or
// timestamp.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedReport, err)
	}
	if r.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMalformedReport)
	}
	if r.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedReport)
	}
	return &r, nil
}

// -----------------------------------------------------------------------------
// Artifact naming
// -----------------------------------------------------------------------------

// ArtifactName returns the report's storage key: "<suite>-<timestamp>.json".
// Keys for the same suite sort chronologically.
func (r *Report) ArtifactName() string {
	return fmt.Sprintf("%s-%s.json", r.Name, r.Timestamp.UTC().Format(artifactTimeLayout))
}

// ParseArtifactName splits an artifact key into suite name and timestamp.
func ParseArtifactName(key string) (suite string, ts time.Time, err error) {
	base := strings.TrimSuffix(key, ".json")
	if base == key {
		return "", time.Time{}, fmt.Errorf("artifact %q: missing .json suffix", key)
	}
	i := strings.LastIndex(base, "-")
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("artifact %q: missing timestamp separator", key)
	}
	ts, err = time.Parse(artifactTimeLayout, base[i+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("artifact %q: bad timestamp: %w", key, err)
	}
	return base[:i], ts, nil
}
