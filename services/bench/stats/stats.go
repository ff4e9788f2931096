// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats computes summary distributions over benchmark samples.
//
// A single Summarize implementation serves both latency and cost metrics so
// the two always agree on percentile and histogram semantics.
package stats

import (
	"math"
	"sort"
	"strconv"
)

// DefaultPercentiles is the standard percentile set reported for latency
// and cost distributions.
var DefaultPercentiles = []float64{25, 50, 75, 90, 95, 99, 99.9}

// DefaultLatencyBucketsMs are histogram upper bounds in milliseconds.
var DefaultLatencyBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Bucket is one histogram bucket.
//
// UpperBound is the inclusive upper bound. The final bucket of a histogram
// has Unbounded set and catches everything beyond the configured bounds;
// +Inf itself is avoided so buckets survive JSON encoding.
type Bucket struct {
	UpperBound float64 `json:"upperBound,omitempty"`
	Unbounded  bool    `json:"unbounded,omitempty"`
	Count      int     `json:"count"`
}

// Distribution summarizes a set of non-negative sample values.
//
// Description:
//
//	Distribution carries count, extremes, central moments, a percentile map,
//	and a histogram. The percentile map is keyed by the requested percentile
//	formatted as a decimal string ("50", "99.9") so the structure survives
//	JSON round-trips.
//
// Thread Safety: Safe for concurrent read access after creation.
type Distribution struct {
	// Count is the number of input values.
	Count int `json:"count"`

	// Min is the smallest value (0 when Count is 0).
	Min float64 `json:"min"`

	// Max is the largest value (0 when Count is 0).
	Max float64 `json:"max"`

	// Mean is the arithmetic mean.
	Mean float64 `json:"mean"`

	// Median is the 50th percentile.
	Median float64 `json:"median"`

	// StdDev is the population standard deviation.
	StdDev float64 `json:"stdDev"`

	// Variance is StdDev squared.
	Variance float64 `json:"variance"`

	// Percentiles maps formatted percentile to value.
	Percentiles map[string]float64 `json:"percentiles,omitempty"`

	// Histogram counts values per upper-bound bucket; the last bucket is
	// unbounded. Bucket counts always sum to Count.
	Histogram []Bucket `json:"histogram,omitempty"`
}

// Percentile returns the recorded value for percentile p.
//
// Outputs:
//   - float64: The value, or 0 if p was not in the requested set.
//   - bool: Whether p was in the requested set.
func (d Distribution) Percentile(p float64) (float64, bool) {
	v, ok := d.Percentiles[PercentileKey(p)]
	return v, ok
}

// PercentileKey formats a percentile for use as a Distribution map key.
func PercentileKey(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Summarize computes a Distribution over values.
//
// Description:
//
//	Sorts the input ascending and computes min/max, mean, population
//	variance/stddev, the requested percentiles (linear interpolation
//	between adjacent order statistics), and a histogram over the given
//	upper bounds with a final unbounded bucket. An empty input yields a
//	zeroed Distribution with Count 0; Summarize never fails.
//
// Inputs:
//   - values: Sample values. Assumed non-negative; not mutated.
//   - percentiles: Percentiles to record, each in [0, 100], ascending.
//     Nil selects DefaultPercentiles.
//   - bounds: Histogram upper bounds, ascending. Nil omits the histogram.
//
// Outputs:
//   - Distribution: The computed summary.
//
// Thread Safety: Stateless; safe for concurrent use.
//
// Example:
//
//	d := stats.Summarize(latenciesMs, stats.DefaultPercentiles, stats.DefaultLatencyBucketsMs)
//	p99, _ := d.Percentile(99)
func Summarize(values []float64, percentiles []float64, bounds []float64) Distribution {
	if percentiles == nil {
		percentiles = DefaultPercentiles
	}
	if len(values) == 0 {
		return Distribution{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	d := Distribution{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: interpolate(sorted, 50),
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	d.Mean = sum / float64(len(sorted))

	var sumSquaredDiff float64
	for _, v := range sorted {
		diff := v - d.Mean
		sumSquaredDiff += diff * diff
	}
	d.Variance = sumSquaredDiff / float64(len(sorted))
	d.StdDev = math.Sqrt(d.Variance)

	d.Percentiles = make(map[string]float64, len(percentiles))
	for _, p := range percentiles {
		d.Percentiles[PercentileKey(p)] = interpolate(sorted, p)
	}

	if len(bounds) > 0 {
		d.Histogram = histogram(sorted, bounds)
	}

	return d
}

// interpolate returns the p-th percentile of sorted values using linear
// interpolation between adjacent order statistics.
func interpolate(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

// histogram places each value into the first bucket whose upper bound it
// does not exceed. Values beyond every configured bound land in a final
// unbounded bucket.
func histogram(sorted []float64, bounds []float64) []Bucket {
	buckets := make([]Bucket, len(bounds)+1)
	for i, b := range bounds {
		buckets[i].UpperBound = b
	}
	buckets[len(bounds)].Unbounded = true

	i := 0
	for _, v := range sorted {
		for i < len(bounds) && v > bounds[i] {
			i++
		}
		buckets[i].Count++
	}
	return buckets
}
