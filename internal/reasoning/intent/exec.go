package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Model call statuses.
const (
	ModelStatusOK          = "ok"
	ModelStatusFailed      = "failed"
	ModelStatusUnavailable = "unavailable"
)

// AssetData is what Gathering returned for one asset.
type AssetData struct {
	AssetID    string
	Context    *adapters.DataResult
	Timeseries *adapters.DataResult
	Events     *adapters.DataResult
}

// Exec is the explicit handle an intent computes with. KB, Models and the
// gathered data are shared read-only; Rec is the intent's own scope.
type Exec struct {
	Kind     Kind
	Question types.Question
	Window   types.TimeWindow
	Boundary time.Time
	// BoundaryDefaulted is set when the boundary is the window midpoint.
	BoundaryDefaulted bool
	// Synthetic is set when telemetry comes from the synthetic generator.
	Synthetic bool
	Spec      RequirementSpec
	Rec       *evidence.Scope
	KB        adapters.KnowledgeBase
	Models    adapters.ModelRunner
	Data      map[string]*AssetData
	Upstream  map[Kind]*Outcome
	Logger    *zap.Logger
}

// Timeseries returns the gathered time series of asset, or nil.
func (x *Exec) Timeseries(asset string) *adapters.DataResult {
	if d := x.Data[asset]; d != nil {
		return d.Timeseries
	}
	return nil
}

// Events returns the gathered events of asset, or nil.
func (x *Exec) Events(asset string) *adapters.DataResult {
	if d := x.Data[asset]; d != nil {
		return d.Events
	}
	return nil
}

// Refs returns refs plus the refs implied by the run itself.
func (x *Exec) Refs(refs ...string) []string {
	out := append([]string(nil), refs...)
	if x.Synthetic {
		out = append(out, evidence.AssumpSyntheticData)
	}
	return out
}

// Gap records a gap in the intent's scope.
func (x *Exec) Gap(category, severity, format string, args ...any) error {
	return x.Rec.RecordGap(category, severity, fmt.Sprintf(format, args...))
}

// Threshold looks up a numeric threshold and records the lookup. A missing
// threshold is recorded as a soft knowledge gap.
func (x *Exec) Threshold(ctx context.Context, ref, impact string) (float64, bool, error) {
	a, ok := x.KB.Threshold(ctx, ref)
	if !ok || a.Value == nil {
		return 0, false, x.Gap(types.GapKnowledge, types.SeveritySoft, "threshold %s not found in knowledge base", ref)
	}
	err := x.Rec.RecordKBRule(types.KBRule{
		KBRef:          ref,
		Kind:           adapters.ArtifactThreshold,
		RuleSummary:    fmt.Sprintf("%s = %s %s", ref, analytics.FormatFloat(*a.Value), a.Unit),
		ImpactOnAnswer: impact,
		SafetyRelevant: a.SafetyRelevant,
	})
	return *a.Value, true, err
}

// Playbook looks up a playbook and records the lookup. A missing playbook is
// recorded as a soft knowledge gap.
func (x *Exec) Playbook(ctx context.Context, ref, impact string) (adapters.Artifact, bool, error) {
	a, ok := x.KB.Playbook(ctx, ref)
	if !ok {
		return adapters.Artifact{}, false, x.Gap(types.GapKnowledge, types.SeveritySoft, "playbook %s not found in knowledge base", ref)
	}
	err := x.Rec.RecordKBRule(types.KBRule{
		KBRef:          ref,
		Kind:           adapters.ArtifactPlaybook,
		RuleSummary:    a.Summary,
		ImpactOnAnswer: impact,
		SafetyRelevant: a.SafetyRelevant,
	})
	return a, true, err
}

// RunModel invokes a model and records the call. Failures are recorded with
// no outputs and a soft gap; the caller never gets a substitute value.
func (x *Exec) RunModel(ctx context.Context, name string, in adapters.ModelInputs) (*adapters.ModelOutput, error) {
	inputSummary := map[string]any{
		"asset_id": in.AssetID,
		"points":   len(in.Series),
	}
	for k, v := range in.Params {
		inputSummary[k] = v
	}

	out, err := x.Models.RunModel(ctx, name, in)
	if err != nil {
		status, category := ModelStatusFailed, types.GapModel
		var failure *adapters.ModelFailure
		if !errors.As(err, &failure) {
			status, category = ModelStatusUnavailable, types.GapAdapter
		}
		if rerr := x.Rec.RecordModelCall(types.ModelCall{
			Name:          name,
			Status:        status,
			InputSummary:  inputSummary,
			OutputSummary: map[string]any{},
			Error:         err.Error(),
		}); rerr != nil {
			return nil, rerr
		}
		return nil, x.Gap(category, types.SeveritySoft, "model %s: %v", name, err)
	}

	outputs := make(map[string]any, len(out.Outputs))
	for k, v := range out.Outputs {
		outputs[k] = v
	}
	conf := out.Confidence
	return out, x.Rec.RecordModelCall(types.ModelCall{
		Name:            out.Name,
		Version:         out.Version,
		Status:          ModelStatusOK,
		InputSummary:    inputSummary,
		OutputSummary:   outputs,
		ModelConfidence: &conf,
		Limitations:     out.Limitations,
	})
}

// input formats a computation input reference.
func input(kind, asset, what string) string {
	return fmt.Sprintf("%s:%s:%s", kind, asset, what)
}

// upstreamInput references a computation of another intent.
func upstreamInput(kind Kind, name, asset string) string {
	if asset == "" {
		return fmt.Sprintf("%s/%s", kind, name)
	}
	return fmt.Sprintf("%s/%s[%s]", kind, name, asset)
}
