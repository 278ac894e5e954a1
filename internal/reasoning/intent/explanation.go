package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// CompDegradationLink is the computation of degradation_explanation.
const CompDegradationLink = "degradation_anomaly_link"

// PlaybookThermalStress is the playbook cited by degradation explanations.
const PlaybookThermalStress = "thermal_stress_degradation"

// Temporal overlap of an asset's spikes with its post-boundary window.
const (
	OverlapNone         = "none"
	OverlapPreBoundary  = "pre_boundary"
	OverlapPostBoundary = "post_boundary"
	OverlapSpans        = "spans_boundary"
)

// DegradationExplanation links accelerated SoH fade to temperature spikes
// found by its two dependencies. Links are labeled plausible contributors,
// never causes.
func DegradationExplanation() *Definition {
	return &Definition{
		Kind:      KindDegradationExplanation,
		Keywords:  []string{"degrad", "soh", "fade", "declin", "health"},
		Triggers:  []string{"why", "explain", "contribut", "reason"},
		DependsOn: []Kind{KindSoHTrendCompare, KindAnomalyScanTemp},
		Spec: RequirementSpec{
			MinAssets:            1,
			MinHorizon:           7 * 24 * time.Hour,
			KBPlaybooks:          []string{PlaybookThermalStress},
			RequiredComputations: []string{CompDegradationLink},
		},
		Compute: computeExplanation,
	}
}

type link struct {
	asset       string
	spikes      int
	overlap     string
	accel       float64
	pre, post   float64
	first, last string
}

func computeExplanation(ctx context.Context, x *Exec) (*Fragment, error) {
	trend, scan := x.Upstream[KindSoHTrendCompare], x.Upstream[KindAnomalyScanTemp]
	if trend == nil || scan == nil {
		return nil, x.Gap(types.GapDependency, types.SeverityCritical, "explanation needs %s and %s outcomes", KindSoHTrendCompare, KindAnomalyScanTemp)
	}
	if _, _, err := x.Playbook(ctx, PlaybookThermalStress, "Describes how sustained heat accelerates capacity fade."); err != nil {
		return nil, err
	}

	var links []link
	perAsset := map[string]any{}
	for _, asset := range x.Question.Assets {
		slope, ok := trend.Computation(CompSlopeEstimate, asset)
		if !ok {
			continue
		}
		spikes, ok := scan.Computation(CompSpikeScan, asset)
		if !ok {
			continue
		}

		l := link{
			asset:  asset,
			spikes: asInt(spikes.Outputs["spike_count"]),
			pre:    asFloat(slope.Outputs["pre_slope_per_day"]),
			post:   asFloat(slope.Outputs["post_slope_per_day"]),
			accel:  asFloat(slope.Outputs["acceleration_per_day"]),
		}
		l.first, _ = spikes.Outputs["first_spike"].(string)
		l.last, _ = spikes.Outputs["last_spike"].(string)
		l.overlap = overlap(l, x.Boundary)

		outputs := map[string]any{
			"asset_id":              asset,
			"spike_count":           l.spikes,
			"spikes_after_boundary": l.overlap == OverlapPostBoundary || l.overlap == OverlapSpans,
			"pre_slope_per_day":     l.pre,
			"post_slope_per_day":    l.post,
			"acceleration_per_day":  l.accel,
			"temporal_overlap":      l.overlap,
		}
		if err := x.Rec.RecordComputation(types.Computation{
			Name: CompDegradationLink,
			Inputs: []string{
				upstreamInput(KindSoHTrendCompare, CompSlopeEstimate, asset),
				upstreamInput(KindAnomalyScanTemp, CompSpikeScan, asset),
			},
			Method:         "Compare spike timing with the SoH boundary; a link needs spikes after the boundary and a steeper post-boundary fade.",
			Outputs:        outputs,
			AssumptionRefs: x.Refs(evidence.AssumpTemporalAssociation),
		}); err != nil {
			return nil, err
		}
		links = append(links, l)
		perAsset[asset] = map[string]any{
			"temporal_overlap":      outputs["temporal_overlap"],
			"spikes_after_boundary": outputs["spikes_after_boundary"],
			"acceleration_per_day":  outputs["acceleration_per_day"],
		}
	}
	if len(links) == 0 {
		return nil, x.Gap(types.GapComputation, types.SeveritySoft, "no asset has both a slope estimate and a spike scan")
	}

	var hypotheses []types.Hypothesis
	var sentences, linked []string
	for _, l := range links {
		if !l.linked() {
			continue
		}
		linked = append(linked, l.asset)
		statement := fmt.Sprintf("Temperature spikes on %s (%d readings, %s to %s) are a plausible contributor to its steeper SoH fade after the boundary (%s vs %s %%/day).",
			l.asset, l.spikes, l.first, l.last, analytics.FormatFloat(l.post), analytics.FormatFloat(l.pre))
		sentences = append(sentences, statement)
		hypotheses = append(hypotheses, types.Hypothesis{
			Statement: statement,
			Type:      types.HypothesisPlausibleContributor,
			SupportingComputations: []string{
				upstreamInput(KindSoHTrendCompare, CompSlopeEstimate, l.asset),
				upstreamInput(KindAnomalyScanTemp, CompSpikeScan, l.asset),
				fmt.Sprintf("%s[%s]", CompDegradationLink, l.asset),
			},
			Limitations: []string{
				"Temporal co-occurrence only; other stressors such as cycling depth or C-rate were not examined.",
				"Cell-level temperature and SoH are not available; rack aggregates may hide local effects.",
			},
		})
	}
	if len(linked) == 0 {
		sentences = append(sentences, "No asset shows temperature spikes after the boundary together with a steeper SoH fade; no thermal contributor is indicated.")
	} else {
		sentences = append(sentences, "This is an association in time, not a confirmed mechanism.")
	}

	return &Fragment{
		Answer:     strings.Join(sentences, " "),
		Hypotheses: hypotheses,
		Data: map[string]any{
			"linked_assets": orEmpty(linked),
			"per_asset":     perAsset,
		},
	}, nil
}

func (l link) linked() bool {
	return l.spikes > 0 && l.accel < 0 && (l.overlap == OverlapPostBoundary || l.overlap == OverlapSpans)
}

func overlap(l link, boundary time.Time) string {
	if l.spikes == 0 {
		return OverlapNone
	}
	first, err1 := time.Parse(time.RFC3339, l.first)
	last, err2 := time.Parse(time.RFC3339, l.last)
	if err1 != nil || err2 != nil {
		return OverlapNone
	}
	switch {
	case !first.Before(boundary):
		return OverlapPostBoundary
	case last.Before(boundary):
		return OverlapPreBoundary
	default:
		return OverlapSpans
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
