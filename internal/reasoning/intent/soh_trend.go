package intent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/model"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Computations of soh_trend_compare.
const (
	CompSlopeEstimate = "soh_slope_estimate"
	CompSlopeCompare  = "soh_slope_compare"
)

// ThresholdEndOfLife is the KB threshold for end of life SoH.
const ThresholdEndOfLife = "soh_end_of_life_pct"

const slopeMethod = "Split the SoH series at the boundary; per half, slope = (mean of last k points - mean of first k points) / days spanned, k = max(3, n/10)."

// SoHTrendCompare compares state-of-health fade across assets before and
// after a boundary.
func SoHTrendCompare() *Definition {
	return &Definition{
		Kind:     KindSoHTrendCompare,
		Keywords: []string{"soh", "degrad", "health", "declin", "trend", "faster", "fade"},
		Spec: RequirementSpec{
			Signals: []SignalReq{
				{Name: SignalSoH, Critical: true},
				{Name: SignalTemperature},
			},
			MinAssets:            2,
			MinPoints:            20,
			MinRowCoverage:       0.5,
			MinHorizon:           7 * 24 * time.Hour,
			KBThresholds:         []string{ThresholdEndOfLife},
			Models:               []ModelReq{{Name: model.FadeProjection}},
			RequiredComputations: []string{CompSlopeCompare},
		},
		Compute: computeSoHTrend,
	}
}

type assetSlope struct {
	asset     string
	pre, post float64
	postPts   []analytics.Point
}

func computeSoHTrend(ctx context.Context, x *Exec) (*Fragment, error) {
	boundary := x.Boundary.UTC().Format(time.RFC3339)
	refs := []string{evidence.AssumpSoHIsValidProxy, evidence.AssumpLinearFade}
	if x.BoundaryDefaulted {
		refs = append(refs, evidence.AssumpMidpointBoundary)
	}

	var slopes []assetSlope
	perAsset := map[string]any{}
	for _, asset := range x.Question.Assets {
		series := x.Timeseries(asset).Series(SignalSoH)
		if len(series) == 0 {
			continue
		}
		pre, post := analytics.SplitAt(series, x.Boundary)
		preSlope, err := analytics.EndpointSlope(pre, x.Spec.MinPoints)
		if err != nil {
			if err := x.Gap(types.GapComputation, types.SeveritySoft, "%s: %d pre-boundary soh points, need %d", asset, len(pre), x.Spec.MinPoints); err != nil {
				return nil, err
			}
			continue
		}
		postSlope, err := analytics.EndpointSlope(post, x.Spec.MinPoints)
		if err != nil {
			if err := x.Gap(types.GapComputation, types.SeveritySoft, "%s: %d post-boundary soh points, need %d", asset, len(post), x.Spec.MinPoints); err != nil {
				return nil, err
			}
			continue
		}

		s := assetSlope{
			asset:   asset,
			pre:     analytics.Round(preSlope, 5),
			post:    analytics.Round(postSlope, 5),
			postPts: post,
		}
		c := types.Computation{
			Name:   CompSlopeEstimate,
			Inputs: []string{input(adapters.KindTimeseries, asset, SignalSoH)},
			Method: slopeMethod,
			Outputs: map[string]any{
				"asset_id":             asset,
				"boundary":             boundary,
				"pre_points":           len(pre),
				"post_points":          len(post),
				"pre_slope_per_day":    s.pre,
				"post_slope_per_day":   s.post,
				"acceleration_per_day": analytics.Round(s.post-s.pre, 5),
			},
			AssumptionRefs: x.Refs(refs...),
		}
		if err := x.Rec.RecordComputation(c); err != nil {
			return nil, err
		}
		slopes = append(slopes, s)
		perAsset[asset] = map[string]any{
			"pre_slope_per_day":  c.Outputs["pre_slope_per_day"],
			"post_slope_per_day": c.Outputs["post_slope_per_day"],
		}
	}

	if len(slopes) < 2 {
		return nil, x.Gap(types.GapComputation, types.SeveritySoft,
			"slope comparison needs two assets with slope estimates, got %d", len(slopes))
	}

	ranked := append([]assetSlope(nil), slopes...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].post < ranked[j].post })
	ranking := make([]string, 0, len(ranked))
	inputs := make([]string, 0, len(ranked))
	for _, s := range slopes {
		inputs = append(inputs, fmt.Sprintf("%s[%s]", CompSlopeEstimate, s.asset))
	}
	for _, s := range ranked {
		ranking = append(ranking, s.asset)
	}
	winner, runnerUp := ranked[0], ranked[1]

	outputs := map[string]any{
		"boundary":                     boundary,
		"winner":                       winner.asset,
		"winner_post_slope_per_day":    winner.post,
		"runner_up":                    runnerUp.asset,
		"runner_up_post_slope_per_day": runnerUp.post,
		"ranking":                      ranking,
		"tie":                          winner.post == runnerUp.post,
	}
	if runnerUp.post < 0 && winner.post < runnerUp.post {
		outputs["fade_ratio"] = analytics.Round(winner.post/runnerUp.post, 2)
	}
	if err := x.Rec.RecordComputation(types.Computation{
		Name:           CompSlopeCompare,
		Inputs:         inputs,
		Method:         "Rank assets by post-boundary SoH slope; the most negative slope is degrading fastest.",
		Outputs:        outputs,
		AssumptionRefs: x.Refs(refs...),
	}); err != nil {
		return nil, err
	}
	if err := x.Rec.AddAttachment(evidence.AttachmentTable, "soh_slopes_by_asset"); err != nil {
		return nil, err
	}

	eol, ok, err := x.Threshold(ctx, ThresholdEndOfLife, "End-of-life level used to project remaining life of the faster-fading asset.")
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err := x.RunModel(ctx, model.FadeProjection, adapters.ModelInputs{
			AssetID: winner.asset,
			Series:  winner.postPts,
			Params:  map[string]float64{model.ParamEndOfLife: eol},
		}); err != nil {
			return nil, err
		}
	}

	data := map[string]any{
		"boundary":  boundary,
		"winner":    winner.asset,
		"ranking":   ranking,
		"per_asset": perAsset,
	}
	var answer string
	switch {
	case outputs["tie"] == true:
		answer = fmt.Sprintf("%s and %s show the same post-boundary SoH slope (%s %%/day); neither is degrading faster.",
			winner.asset, runnerUp.asset, analytics.FormatFloat(winner.post))
	case winner.post >= 0:
		answer = fmt.Sprintf("No asset shows declining SoH after %s; %s has the lowest post-boundary slope (%s %%/day).",
			boundary, winner.asset, analytics.FormatFloat(winner.post))
	default:
		answer = fmt.Sprintf("%s is degrading faster: its post-boundary SoH slope is %s %%/day against %s %%/day for %s.",
			winner.asset, analytics.FormatFloat(winner.post), analytics.FormatFloat(runnerUp.post), runnerUp.asset)
		if r, ok := outputs["fade_ratio"]; ok {
			data["fade_ratio"] = r
		}
	}
	return &Fragment{Answer: answer, Data: data}, nil
}
