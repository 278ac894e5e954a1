package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

func linearPoints(n int, step time.Duration, start, perDay float64) []Point {
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		ts := t0.Add(time.Duration(i) * step)
		days := ts.Sub(t0).Hours() / 24
		out[i] = Point{Timestamp: ts, Value: start + perDay*days}
	}
	return out
}

func TestCalculateStatistics(t *testing.T) {
	points := make([]Point, 10)
	for i := range points {
		points[i] = Point{Timestamp: t0.Add(time.Duration(i) * time.Minute), Value: float64(i + 1)}
	}

	stats, err := CalculateStatistics(points)
	require.NoError(t, err)
	assert.InDelta(t, 5.5, stats.Mean, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 10.0, stats.Max)
	assert.Equal(t, 10, stats.Count)
	// nearest rank: round(9*0.5) = 5
	assert.Equal(t, 6.0, stats.P50)
	assert.Equal(t, 10.0, stats.P95)

	_, err = CalculateStatistics(nil)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Percentile(sorted, 0))
	assert.Equal(t, 3.0, Percentile(sorted, 0.5))
	assert.Equal(t, 5.0, Percentile(sorted, 0.95))
	assert.Equal(t, 5.0, Percentile(sorted, 1.5))
	assert.Equal(t, 0.0, Percentile(nil, 0.5))
}

func TestEndpointSlope(t *testing.T) {
	// 10 days hourly, falling 0.5 per day.
	points := linearPoints(241, time.Hour, 100, -0.5)

	slope, err := EndpointSlope(points, 20)
	require.NoError(t, err)
	// k = 24 points per end: the means are 23 hours apart from the endpoints,
	// so the estimate is shrunk by (10 - 23/24) / 10.
	want := -0.5 * (10 - 23.0/24) / 10
	assert.InDelta(t, want, slope, 1e-9)

	_, err = EndpointSlope(points[:10], 20)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestLinearFit(t *testing.T) {
	points := linearPoints(50, 6*time.Hour, 99, -0.25)

	fit, err := LinearFit(points)
	require.NoError(t, err)
	assert.InDelta(t, -0.25, fit.Slope, 1e-9)
	assert.InDelta(t, 99, fit.Intercept, 1e-9)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-9)
	assert.Equal(t, 50, fit.Points)

	_, err = LinearFit(points[:2])
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestSplitAt(t *testing.T) {
	points := linearPoints(48, time.Hour, 1, 0)
	boundary := t0.Add(12 * time.Hour)

	pre, post := SplitAt(points, boundary)
	assert.Len(t, pre, 12)
	assert.Len(t, post, 36)
	assert.Equal(t, boundary, post[0].Timestamp)
}

func TestProfileGaps(t *testing.T) {
	tests := []struct {
		name    string
		missing []bool
		want    GapStats
	}{
		{"none", []bool{false, false}, GapStats{}},
		{"single streak", []bool{false, true, true, true, false}, GapStats{MissingRows: 3, Streaks: 1, LongestStreak: 3}},
		{"trailing", []bool{true, false, true, true}, GapStats{MissingRows: 3, Streaks: 2, LongestStreak: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProfileGaps(tt.missing))
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.235, Round(1.23456, 3))
	assert.False(t, math.IsNaN(Round(0, 6)))
}
