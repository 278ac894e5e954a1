package model

// Package model hosts the built-in model adapter.
//
// soh_fade_projection fits a least squares line to a state-of-health series
// and projects the days left until the end-of-life threshold. The fit's R² is
// reported as the model's own confidence.

import (
	"context"
	"errors"
	"fmt"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
)

// FadeProjection is the name of the linear fade model.
const FadeProjection = "soh_fade_projection"

// ParamEndOfLife is the required input parameter of FadeProjection.
const ParamEndOfLife = "eol_pct"

const fadeVersion = "v1"

// Runner runs the built-in models.
type Runner struct {
	minPoints int
}

var _ adapters.ModelRunner = (*Runner)(nil)

// NewRunner creates a runner. minPoints guards the fit.
func NewRunner(minPoints int) *Runner {
	if minPoints < 3 {
		minPoints = 3
	}
	return &Runner{minPoints: minPoints}
}

// RunModel dispatches to a named model.
func (r *Runner) RunModel(ctx context.Context, name string, in adapters.ModelInputs) (*adapters.ModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch name {
	case FadeProjection:
		return r.fadeProjection(in)
	default:
		return nil, &adapters.ModelFailure{Model: name, Reason: "unknown model"}
	}
}

func (r *Runner) fadeProjection(in adapters.ModelInputs) (*adapters.ModelOutput, error) {
	eol, ok := in.Params[ParamEndOfLife]
	if !ok {
		return nil, &adapters.ModelFailure{Model: FadeProjection, Reason: "missing parameter " + ParamEndOfLife}
	}
	if len(in.Series) < r.minPoints {
		return nil, &adapters.ModelFailure{
			Model:  FadeProjection,
			Reason: fmt.Sprintf("needs %d points, got %d", r.minPoints, len(in.Series)),
			Err:    analytics.ErrInsufficientPoints,
		}
	}

	fit, err := analytics.LinearFit(in.Series)
	if err != nil {
		reason := "fit failed"
		if errors.Is(err, analytics.ErrInsufficientPoints) {
			reason = "insufficient points"
		}
		return nil, &adapters.ModelFailure{Model: FadeProjection, Reason: reason, Err: err}
	}

	first := in.Series[0].Timestamp
	last := in.Series[len(in.Series)-1].Timestamp
	span := last.Sub(first).Hours() / 24
	current := fit.Intercept + fit.Slope*span

	out := &adapters.ModelOutput{
		Name:    FadeProjection,
		Version: fadeVersion,
		Outputs: map[string]float64{
			"slope_per_day":   analytics.Round(fit.Slope, 6),
			"fitted_soh_last": analytics.Round(current, 4),
			"r_squared":       analytics.Round(fit.RSquared, 4),
		},
		Confidence: analytics.Round(max(fit.RSquared, 0), 4),
		Limitations: []string{
			"Linear extrapolation from a short window.",
			"Ignores calendar ageing and temperature effects.",
		},
	}
	if fit.Slope < 0 && current > eol {
		out.Outputs["days_to_eol"] = analytics.Round((current-eol)/-fit.Slope, 1)
	} else {
		out.Limitations = append(out.Limitations, "No decline toward end of life in the fitted window.")
	}
	return out, nil
}
