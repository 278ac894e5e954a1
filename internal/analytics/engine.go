package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Package analytics provides the statistics the reasoning intents run over
// battery telemetry.
//
// IMPORTANT: This package uses ONLY deterministic statistical methods. Every
// function is a pure function of its inputs so intent computations stay
// reproducible.
//
// Statistical Methods Used:
//   1. Endpoint slope: difference of the means of the first and last k points,
//      divided by the elapsed days
//   2. Least squares: slope, intercept and R² with x in days
//   3. Percentiles: nearest-rank on sorted data
//   4. Gap profile: missing rows, missing streaks, longest streak

// ErrInsufficientPoints is returned when a method needs more points than it got.
var ErrInsufficientPoints = errors.New("insufficient data points")

// Point is one observation of a single signal.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Statistics summarizes a set of values.
type Statistics struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P50    float64
	P95    float64
}

// Fit is the result of a least squares line fit. Slope is per day.
type Fit struct {
	Slope     float64
	Intercept float64
	RSquared  float64
	Points    int
}

// GapStats describes missing rows in a regular series.
type GapStats struct {
	MissingRows   int
	Streaks       int
	LongestStreak int
}

// CalculateStatistics returns summary statistics for points.
func CalculateStatistics(points []Point) (*Statistics, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no data points provided: %w", ErrInsufficientPoints)
	}

	values := Values(points)
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := Mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return &Statistics{
		Count:  len(values),
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    Percentile(sorted, 0.50),
		P95:    Percentile(sorted, 0.95),
	}, nil
}

// Values extracts the values of points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile returns the nearest-rank percentile of sorted data, p in [0,1].
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(float64(len(sorted)-1) * p))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SplitAt splits time-ordered points into [.., boundary) and [boundary, ..).
func SplitAt(points []Point, boundary time.Time) (pre, post []Point) {
	for _, p := range points {
		if p.Timestamp.Before(boundary) {
			pre = append(pre, p)
		} else {
			post = append(post, p)
		}
	}
	return pre, post
}

// EndpointSlope estimates the per-day rate of change of time-ordered points as
// (mean(last k) - mean(first k)) / elapsed days, with k = max(3, n/10).
func EndpointSlope(points []Point, minPoints int) (float64, error) {
	n := len(points)
	if n < minPoints || n < 2 {
		return 0, fmt.Errorf("endpoint slope needs %d points, got %d: %w", minPoints, n, ErrInsufficientPoints)
	}
	k := n / 10
	if k < 3 {
		k = 3
	}
	if k > n {
		k = n
	}

	head := Mean(Values(points[:k]))
	tail := Mean(Values(points[n-k:]))
	days := points[n-1].Timestamp.Sub(points[0].Timestamp).Hours() / 24
	if days < 1e-6 {
		days = 1e-6
	}
	return (tail - head) / days, nil
}

// LinearFit fits y = slope*x + intercept by least squares, x in days since the
// first point.
func LinearFit(points []Point) (*Fit, error) {
	n := float64(len(points))
	if len(points) < 3 {
		return nil, fmt.Errorf("linear fit needs 3 points, got %d: %w", len(points), ErrInsufficientPoints)
	}

	origin := points[0].Timestamp
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		x := p.Timestamp.Sub(origin).Hours() / 24
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return nil, errors.New("linear fit: all points share one timestamp")
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		x := p.Timestamp.Sub(origin).Hours() / 24
		predicted := slope*x + intercept
		ssTot += (p.Value - meanY) * (p.Value - meanY)
		ssRes += (p.Value - predicted) * (p.Value - predicted)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return &Fit{Slope: slope, Intercept: intercept, RSquared: r2, Points: len(points)}, nil
}

// ProfileGaps counts missing rows and contiguous missing streaks.
func ProfileGaps(missing []bool) GapStats {
	var stats GapStats
	run := 0
	for _, m := range missing {
		if m {
			stats.MissingRows++
			run++
			continue
		}
		if run > 0 {
			stats.Streaks++
			if run > stats.LongestStreak {
				stats.LongestStreak = run
			}
		}
		run = 0
	}
	if run > 0 {
		stats.Streaks++
		if run > stats.LongestStreak {
			stats.LongestStreak = run
		}
	}
	return stats
}

// Round rounds v to places decimals.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// FormatFloat renders v with the fewest digits that read back exactly.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
