package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

var start = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

func day(n int) types.TimeWindow {
	s := start.Add(time.Duration(n) * 24 * time.Hour)
	return types.TimeWindow{Start: s, End: s.Add(24 * time.Hour)}
}

func fullWindow() types.TimeWindow {
	return types.TimeWindow{Start: start, End: start.Add(14 * 24 * time.Hour)}
}

func TestSyntheticIsDeterministic(t *testing.T) {
	a := GenerateSynthetic(DefaultSyntheticConfig())
	b := GenerateSynthetic(DefaultSyntheticConfig())
	assert.Equal(t, a, b)

	cfg := DefaultSyntheticConfig()
	cfg.Seed = 7
	c := GenerateSynthetic(cfg)
	assert.NotEqual(t, a.Readings["rack_01"][10].Values, c.Readings["rack_01"][10].Values)
}

func TestSyntheticScenario(t *testing.T) {
	ds := GenerateSynthetic(DefaultSyntheticConfig())
	require.Len(t, ds.Readings["rack_01"], 14*96)
	require.Len(t, ds.Readings["rack_02"], 14*96)

	missing := func(id string) int {
		n := 0
		for _, rd := range ds.Readings[id] {
			if rd.Missing {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 0, missing("rack_01"))
	assert.Equal(t, 8, missing("rack_02"))

	peak := func(id string) float64 {
		max := 0.0
		for _, rd := range ds.Readings[id] {
			if v, ok := rd.Values["temperature"]; ok && v > max {
				max = v
			}
		}
		return max
	}
	assert.Greater(t, peak("rack_02"), peak("rack_01")+5)

	last := func(id string) float64 { return ds.Readings[id][len(ds.Readings[id])-1].Values["soh"] }
	assert.Less(t, last("rack_02"), last("rack_01"))
	require.Len(t, ds.Events, 2)
}

func TestGetTimeseries(t *testing.T) {
	a := NewAdapter("synthetic", GenerateSynthetic(DefaultSyntheticConfig()))
	ctx := context.Background()

	res, err := a.GetTimeseries(ctx, "rack_01", []string{"soh", "temperature"}, day(0))
	require.NoError(t, err)
	assert.Equal(t, "synthetic", res.Source)
	assert.Equal(t, "15m", res.Granularity)
	assert.Equal(t, 96, res.Quality.RowCount)
	assert.Equal(t, 96, res.Quality.ExpectedRows)
	assert.Equal(t, types.QualityOK, res.Quality.Status)
	assert.Equal(t, []string{"soh", "temperature"}, res.Quality.SignalsReturned)
	assert.NotContains(t, res.Readings[0].Values, "soc")
	assert.Len(t, res.Series("soh"), 96)

	res, err = a.GetTimeseries(ctx, "rack_02", []string{"temperature"}, day(10))
	require.NoError(t, err)
	assert.Equal(t, types.QualityPartial, res.Quality.Status)
	assert.Equal(t, 8, res.Quality.MissingRows)
	assert.Len(t, res.Series("temperature"), 88)

	mask := res.MissingMask()
	require.Len(t, mask, 96)
	assert.True(t, mask[40])
	assert.False(t, mask[39])
}

func TestGetTimeseriesRejectsUnknownInput(t *testing.T) {
	a := NewAdapter("synthetic", GenerateSynthetic(DefaultSyntheticConfig()))

	_, err := a.GetTimeseries(context.Background(), "rack_01", []string{"soh", "pressure"}, day(0))
	assert.ErrorIs(t, err, ErrUnsupportedSignal)

	res, err := a.GetTimeseries(context.Background(), "rack_09", []string{"soh"}, day(0))
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, types.QualityEmpty, res.Quality.Status)
	assert.Contains(t, res.Quality.Notes, "rack_09")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.GetTimeseries(ctx, "rack_01", []string{"soh"}, day(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetEvents(t *testing.T) {
	a := NewAdapter("synthetic", GenerateSynthetic(DefaultSyntheticConfig()))

	res, err := a.GetEvents(context.Background(), "rack_02", fullWindow())
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, SyntheticSpikeEventID, res.Events[0].ID)
	assert.Equal(t, SyntheticGapEventID, res.Events[1].ID)
	assert.True(t, res.Events[0].Start.Before(res.Events[1].Start))

	res, err = a.GetEvents(context.Background(), "rack_02", day(0))
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, "no events in window", res.Quality.Notes)

	res, err = a.GetEvents(context.Background(), "rack_01", fullWindow())
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestGetAssetContext(t *testing.T) {
	a := NewAdapter("synthetic", GenerateSynthetic(DefaultSyntheticConfig()))

	res, err := a.GetAssetContext(context.Background(), "rack_02")
	require.NoError(t, err)
	require.NotNil(t, res.Asset)
	assert.Equal(t, "site_alpha", res.Asset.SiteID)
	assert.Equal(t, "LFP", res.Asset.Chemistry)
	assert.Equal(t, 100.0, res.Asset.NominalCapacityKWh)

	res, err = a.GetAssetContext(context.Background(), "site_alpha")
	require.NoError(t, err)
	assert.Equal(t, "site_alpha", res.Asset.SiteID)

	res, err = a.GetAssetContext(context.Background(), "rack_09")
	require.NoError(t, err)
	assert.Nil(t, res.Asset)
	assert.True(t, res.Empty())
}

func TestCSVRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	ds := GenerateSynthetic(DefaultSyntheticConfig())
	require.NoError(t, WriteDir(dir, ds))

	got, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, ds.Site, got.Site)
	assert.Equal(t, ds.Assets, got.Assets)
	assert.Equal(t, ds.Cadence, got.Cadence)
	assert.Equal(t, ds.Events, got.Events)

	for _, id := range []string{"rack_01", "rack_02"} {
		want, have := ds.Readings[id], got.Readings[id]
		require.Len(t, have, len(want), id)
		for i := range want {
			assert.True(t, want[i].Timestamp.Equal(have[i].Timestamp))
			assert.Equal(t, want[i].Missing, have[i].Missing)
			assert.Equal(t, want[i].Status, have[i].Status)
			for sig, v := range want[i].Values {
				assert.InDelta(t, v, have[i].Values[sig], 0.01, "%s %s row %d", id, sig, i)
			}
		}
	}

	// The loaded dataset serves the same answers.
	res, err := NewAdapter("csv", got).GetTimeseries(context.Background(), "rack_02", []string{"soh"}, day(10))
	require.NoError(t, err)
	assert.Equal(t, 8, res.Quality.MissingRows)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.ErrorContains(t, err, AssetsFile)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AssetsFile), []byte(`{"assets":[{"asset_id":"rack_01"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, TelemetryFile), []byte("timestamp,asset_id,soh\nyesterday,rack_01,99\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, EventsFile), []byte("event_id,asset_id,event_type,start_ts,end_ts\n"), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, "telemetry.csv line 2")

	require.NoError(t, os.WriteFile(filepath.Join(dir, TelemetryFile),
		[]byte("timestamp,asset_id,soh,data_quality_flag\n2025-12-01T00:15:00Z,rack_01,,missing\n2025-12-01T00:00:00Z,rack_01,99.5,ok\n"), 0o644))
	ds, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, ds.Readings["rack_01"], 2)
	assert.Equal(t, 99.5, ds.Readings["rack_01"][0].Values["soh"])
	assert.True(t, ds.Readings["rack_01"][1].Missing)
	assert.Equal(t, 15*time.Minute, ds.Cadence)
	assert.Empty(t, ds.Events)
}
