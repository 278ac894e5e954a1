package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
)

func fading(n int, start, perDay float64) []analytics.Point {
	t0 := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	out := make([]analytics.Point, n)
	for i := range out {
		out[i] = analytics.Point{Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour), Value: start + perDay*float64(i)}
	}
	return out
}

func TestFadeProjection(t *testing.T) {
	r := NewRunner(10)
	out, err := r.RunModel(context.Background(), FadeProjection, adapters.ModelInputs{
		AssetID: "rack_02",
		Series:  fading(20, 99, -0.1),
		Params:  map[string]float64{ParamEndOfLife: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, FadeProjection, out.Name)
	assert.Equal(t, "v1", out.Version)
	assert.InDelta(t, -0.1, out.Outputs["slope_per_day"], 1e-6)
	assert.InDelta(t, 97.1, out.Outputs["fitted_soh_last"], 1e-3)
	assert.InDelta(t, 171.0, out.Outputs["days_to_eol"], 0.1)
	assert.InDelta(t, 1.0, out.Confidence, 1e-4)
	assert.Len(t, out.Limitations, 2)
}

func TestFadeProjectionWithoutDecline(t *testing.T) {
	out, err := NewRunner(3).RunModel(context.Background(), FadeProjection, adapters.ModelInputs{
		Series: fading(10, 95, 0.05),
		Params: map[string]float64{ParamEndOfLife: 80},
	})
	require.NoError(t, err)
	assert.NotContains(t, out.Outputs, "days_to_eol")
	assert.Contains(t, out.Limitations, "No decline toward end of life in the fitted window.")
}

func TestFadeProjectionFailures(t *testing.T) {
	r := NewRunner(10)
	ctx := context.Background()

	tests := []struct {
		name   string
		model  string
		in     adapters.ModelInputs
		reason string
	}{
		{"unknown model", "capacity_kalman", adapters.ModelInputs{}, "unknown model"},
		{"missing eol", FadeProjection, adapters.ModelInputs{Series: fading(20, 99, -0.1)}, "missing parameter eol_pct"},
		{"too few points", FadeProjection, adapters.ModelInputs{Series: fading(5, 99, -0.1), Params: map[string]float64{ParamEndOfLife: 80}}, "needs 10 points, got 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.RunModel(ctx, tt.model, tt.in)
			assert.Nil(t, out)
			var failure *adapters.ModelFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.reason, failure.Reason)
		})
	}

	_, err := r.RunModel(ctx, FadeProjection, adapters.ModelInputs{Series: fading(5, 99, -0.1), Params: map[string]float64{ParamEndOfLife: 80}})
	assert.ErrorIs(t, err, analytics.ErrInsufficientPoints)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.RunModel(canceled, FadeProjection, adapters.ModelInputs{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunnerFloor(t *testing.T) {
	assert.Equal(t, 3, NewRunner(0).minPoints)
}
