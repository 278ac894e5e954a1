package telemetry

import (
	"math"
	"math/rand"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
)

// SyntheticConfig describes the generated two-rack site.
type SyntheticConfig struct {
	Seed    int64
	Start   time.Time
	Days    int
	Cadence time.Duration
	SiteID  string
}

// DefaultSyntheticConfig returns the reference scenario: 14 days at 15 minute
// cadence starting 2025-12-01 UTC.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:    42,
		Start:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		Days:    14,
		Cadence: 15 * time.Minute,
		SiteID:  "site_alpha",
	}
}

// Scenario markers of the synthetic site.
const (
	SyntheticSpikeEventID = "ev_temp_spike_rack_02"
	SyntheticGapEventID   = "ev_gap_rack_02"
)

// GenerateSynthetic builds the reference dataset. rack_01 fades slowly;
// rack_02 runs 2C hotter, fades faster after day 7, has a +8C spike on day 8
// at 14:00 for four points and a telemetry gap on day 10 at 10:00 for eight
// points. Output is fully determined by cfg.
func GenerateSynthetic(cfg SyntheticConfig) *Dataset {
	rng := rand.New(rand.NewSource(cfg.Seed))
	perDay := int((24 * time.Hour) / cfg.Cadence)
	total := cfg.Days * perDay
	accelFrom := 7 * perDay

	gapStart := cfg.Start.Add(10*24*time.Hour + 10*time.Hour)
	gapEnd := gapStart.Add(8 * cfg.Cadence)
	spikeStart := cfg.Start.Add(8*24*time.Hour + 14*time.Hour)
	spikeEnd := spikeStart.Add(4 * cfg.Cadence)

	racks := []AssetDoc{
		{AssetID: "rack_01", AssetType: "rack", ParentAssetID: cfg.SiteID, Chemistry: "LFP", InstallDate: "2024-01-01", NominalCapacityKWh: 100},
		{AssetID: "rack_02", AssetType: "rack", ParentAssetID: cfg.SiteID, Chemistry: "LFP", InstallDate: "2024-01-01", NominalCapacityKWh: 100},
	}

	ds := &Dataset{
		Site:     AssetDoc{AssetID: cfg.SiteID, AssetType: "site"},
		Assets:   racks,
		Cadence:  cfg.Cadence,
		Readings: make(map[string][]adapters.Reading, len(racks)),
		Events: []adapters.Event{
			{
				ID: SyntheticSpikeEventID, AssetID: "rack_02", Type: "temp_spike",
				Start: spikeStart, End: spikeEnd, Severity: "minor",
				Notes: "Short temperature spike.",
			},
			{
				ID: SyntheticGapEventID, AssetID: "rack_02", Type: "telemetry_gap",
				Start: gapStart, End: gapEnd, Severity: "minor",
				Notes: "Short telemetry gap (<= 2h).",
			},
		},
	}

	prevSoC := map[string]float64{}
	for i := 0; i < total; i++ {
		ts := cfg.Start.Add(time.Duration(i) * cfg.Cadence)
		phase := float64(i%perDay) / float64(perDay) * 2 * math.Pi

		for _, rack := range racks {
			id := rack.AssetID
			if id == "rack_02" && inWindow(ts, gapStart, gapEnd) {
				ds.Readings[id] = append(ds.Readings[id], adapters.Reading{Timestamp: ts, Missing: true})
				continue
			}

			soc := clamp(57.5+32.5*math.Sin(phase)+uniform(rng, 1.2), 0, 100)

			decline := 0.002 / float64(perDay) * float64(i)
			if id == "rack_02" && i >= accelFrom {
				decline += 0.006 / float64(perDay) * float64(i-accelFrom)
			}
			soh := clamp(100-decline+uniform(rng, 0.01), 80, 100)

			offset := 0.0
			if id == "rack_02" {
				offset = 2.0
			}
			temp := 28 + 1.8*math.Sin(phase) + offset + uniform(rng, 0.4)
			if id == "rack_02" && inWindow(ts, spikeStart, spikeEnd) {
				temp += 8
			}

			power := 0.0
			if prev, ok := prevSoC[id]; ok {
				power = clamp((soc-prev)*4, -50, 50)
			}
			prevSoC[id] = soc

			ds.Readings[id] = append(ds.Readings[id], adapters.Reading{
				Timestamp: ts,
				Values: map[string]float64{
					"soc":         soc,
					"soh":         soh,
					"temperature": temp,
					"power":       power,
				},
				Status: statusFromPower(power),
			})
		}
	}
	return ds
}

func uniform(rng *rand.Rand, half float64) float64 {
	return (rng.Float64()*2 - 1) * half
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}

func statusFromPower(p float64) string {
	switch {
	case p > 2:
		return "charging"
	case p < -2:
		return "discharging"
	default:
		return "idle"
	}
}
