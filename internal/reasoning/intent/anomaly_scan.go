package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Computations of anomaly_scan_temp.
const (
	CompSpikeScan          = "temperature_spike_scan"
	CompEventCorroboration = "event_corroboration"
)

// Knowledge base refs of anomaly_scan_temp.
const (
	ThresholdSpikeMargin      = "temperature_spike_margin_c"
	PlaybookAnomalyResponse   = "temperature_anomaly_response"
	EventTypeTemperatureSpike = "temp_spike"
)

// DefaultSpikeMargin is used when the knowledge base has no margin.
const DefaultSpikeMargin = 1.0

// AnomalyScanTemp scans each asset's temperature for spikes above its own
// p95 baseline and checks the event log for corroboration.
func AnomalyScanTemp() *Definition {
	return &Definition{
		Kind:     KindAnomalyScanTemp,
		Keywords: []string{"temp", "thermal", "overheat", "spike", "anomal", "hot"},
		Spec: RequirementSpec{
			Signals:              []SignalReq{{Name: SignalTemperature, Critical: true}},
			MinAssets:            1,
			MinPoints:            40,
			MinRowCoverage:       0.5,
			MinHorizon:           24 * time.Hour,
			KBThresholds:         []string{ThresholdSpikeMargin},
			KBPlaybooks:          []string{PlaybookAnomalyResponse},
			NeedsEvents:          true,
			RequiredComputations: []string{CompSpikeScan},
		},
		Compute: computeAnomalyScan,
	}
}

func computeAnomalyScan(ctx context.Context, x *Exec) (*Fragment, error) {
	margin, ok, err := x.Threshold(ctx, ThresholdSpikeMargin, "Margin above the p95 baseline a reading must exceed to count as a spike.")
	if err != nil {
		return nil, err
	}
	refs := []string{evidence.AssumpP95Baseline}
	if !ok {
		margin = DefaultSpikeMargin
		refs = append(refs, evidence.AssumpDefaultSpikeMargin)
	}
	if _, _, err := x.Playbook(ctx, PlaybookAnomalyResponse, "Response steps for racks with temperature spikes."); err != nil {
		return nil, err
	}

	detector := anomaly.NewDetector(anomaly.Config{MinPoints: x.Spec.MinPoints, Percentile: 0.95})
	perAsset := map[string]any{}
	var sentences, flagged []string
	for _, asset := range x.Question.Assets {
		series := x.Timeseries(asset).Series(SignalTemperature)
		if len(series) == 0 {
			continue
		}
		scan, err := detector.ScanSpikes(series, margin)
		if err != nil {
			if err := x.Gap(types.GapComputation, types.SeveritySoft, "%s: %d temperature points, need %d", asset, len(series), x.Spec.MinPoints); err != nil {
				return nil, err
			}
			continue
		}

		outputs := map[string]any{
			"asset_id":    asset,
			"p50":         analytics.Round(scan.P50, 3),
			"p95":         analytics.Round(scan.P95, 3),
			"margin":      margin,
			"threshold":   analytics.Round(scan.Threshold, 3),
			"spike_count": scan.SpikeCount(),
		}
		var first, last string
		if n := scan.SpikeCount(); n > 0 {
			first = scan.Spikes[0].Timestamp.UTC().Format(time.RFC3339)
			last = scan.Spikes[n-1].Timestamp.UTC().Format(time.RFC3339)
			peak := scan.Spikes[0].Value
			for _, p := range scan.Spikes {
				peak = max(peak, p.Value)
			}
			outputs["first_spike"] = first
			outputs["last_spike"] = last
			outputs["peak_temperature"] = analytics.Round(peak, 2)
		}
		if err := x.Rec.RecordComputation(types.Computation{
			Name:           CompSpikeScan,
			Inputs:         []string{input(adapters.KindTimeseries, asset, SignalTemperature)},
			Method:         fmt.Sprintf("Nearest-rank p50 and p95 of temperature; a spike is a reading above p95 + %s C.", analytics.FormatFloat(margin)),
			Outputs:        outputs,
			AssumptionRefs: x.Refs(refs...),
		}); err != nil {
			return nil, err
		}

		entry := map[string]any{
			"p95":         outputs["p95"],
			"threshold":   outputs["threshold"],
			"spike_count": outputs["spike_count"],
		}
		corroborated, err := corroborate(x, asset, scan)
		if err != nil {
			return nil, err
		}
		if corroborated != nil {
			entry["corroborated_by_events"] = *corroborated
		}
		if scan.SpikeCount() > 0 {
			entry["first_spike"] = first
			entry["last_spike"] = last
			entry["peak_temperature"] = outputs["peak_temperature"]
			flagged = append(flagged, asset)
			s := fmt.Sprintf("%s has %d temperature readings above %s C between %s and %s (peak %s C)",
				asset, scan.SpikeCount(), analytics.FormatFloat(outputs["threshold"].(float64)), first, last,
				analytics.FormatFloat(outputs["peak_temperature"].(float64)))
			if corroborated != nil && *corroborated {
				s += ", matching a logged temp_spike event"
			}
			sentences = append(sentences, s+".")
		} else {
			sentences = append(sentences, fmt.Sprintf("%s shows no temperature spike above %s C.",
				asset, analytics.FormatFloat(outputs["threshold"].(float64))))
		}
		perAsset[asset] = entry
	}

	if len(perAsset) == 0 {
		return nil, nil
	}
	return &Fragment{
		Answer: strings.Join(sentences, " "),
		Data: map[string]any{
			"assets_with_spikes": orEmpty(flagged),
			"per_asset":          perAsset,
		},
	}, nil
}

// corroborate compares detected spikes with temp_spike events logged for
// asset. A logged spike with no matching reading is a contradiction. Returns
// nil when no event log was gathered.
func corroborate(x *Exec, asset string, scan *anomaly.Scan) (*bool, error) {
	res := x.Events(asset)
	if res == nil || res.Quality.Status == types.QualityUnavailable {
		return nil, nil
	}

	var logged, overlapping int
	for _, ev := range res.Events {
		if ev.Type != EventTypeTemperatureSpike {
			continue
		}
		logged++
		for _, p := range scan.Spikes {
			if !p.Timestamp.Before(ev.Start) && !p.Timestamp.After(ev.End) {
				overlapping++
			}
		}
	}
	corroborated := logged > 0 && overlapping > 0
	if err := x.Rec.RecordComputation(types.Computation{
		Name: CompEventCorroboration,
		Inputs: []string{
			input(adapters.KindEvents, asset, EventTypeTemperatureSpike),
			fmt.Sprintf("%s[%s]", CompSpikeScan, asset),
		},
		Method: "Count logged temp_spike events and the detected spike readings falling inside them.",
		Outputs: map[string]any{
			"asset_id":            asset,
			"logged_spike_events": logged,
			"overlapping_spikes":  overlapping,
			"corroborated":        corroborated,
		},
		AssumptionRefs: x.Refs(),
	}); err != nil {
		return nil, err
	}

	if logged > 0 && scan.SpikeCount() == 0 {
		if err := x.Gap(types.GapContradiction, types.SeverityCritical,
			"%s: event log reports %d temp_spike event(s) but no reading exceeds the spike threshold", asset, logged); err != nil {
			return nil, err
		}
	}
	return &corroborated, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
