package intent

// Package intent declares the reasoning tasks the brain can run.
//
// An intent is a tagged variant: a Kind, the keywords that select it, a
// RequirementSpec saying what data, knowledge and models it needs, the
// intents it depends on, and a Compute function. Adding an intent means
// registering a Definition; the orchestrator never changes.
//
// Compute runs after Gathering with everything it may touch passed in through
// an Exec handle. It records every computation, model call and knowledge
// lookup into the intent's evidence scope and returns a Fragment whose data
// values are copied from recorded computation outputs only.

import (
	"context"
	"errors"
	"time"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

var (
	// ErrUnrecognizedIntent means no registered intent matches the question.
	ErrUnrecognizedIntent = errors.New("unrecognized intent")
	// ErrMissingAssets means the question names too few or too many assets.
	ErrMissingAssets = errors.New("missing required asset identifiers")
)

// Kind names an intent.
type Kind string

// Built-in intents, in declaration order.
const (
	KindSoHTrendCompare        Kind = "soh_trend_compare"
	KindAnomalyScanTemp        Kind = "anomaly_scan_temp"
	KindDegradationExplanation Kind = "degradation_explanation"
)

// Signals.
const (
	SignalSoH         = "soh"
	SignalSoC         = "soc"
	SignalTemperature = "temperature"
)

// SignalReq is one signal an intent reads.
type SignalReq struct {
	Name     string
	Critical bool
}

// ModelReq is one model an intent may call.
type ModelReq struct {
	Name     string
	Critical bool
}

// RequirementSpec is what an intent needs to answer honestly.
type RequirementSpec struct {
	Signals   []SignalReq
	MinAssets int
	MaxAssets int // 0 means unbounded
	// MinPoints is the minimum number of valid points per series the
	// intent's computations need.
	MinPoints int
	// MinRowCoverage is the critical share of expected rows that must be
	// present in every time series.
	MinRowCoverage float64
	// MinHorizon is the shortest window the intent's conclusions hold for.
	MinHorizon   time.Duration
	KBThresholds []string
	KBPlaybooks  []string
	Models       []ModelReq
	NeedsEvents  bool
	// RequiredComputations must be recorded for the intent to pass
	// Validating.
	RequiredComputations []string
}

// SignalNames returns every signal name in declaration order.
func (s RequirementSpec) SignalNames() []string {
	out := make([]string, 0, len(s.Signals))
	for _, sig := range s.Signals {
		out = append(out, sig.Name)
	}
	return out
}

// CriticalSignals returns the names of critical signals.
func (s RequirementSpec) CriticalSignals() []string {
	var out []string
	for _, sig := range s.Signals {
		if sig.Critical {
			out = append(out, sig.Name)
		}
	}
	return out
}

// CriticalModels returns the names of critical models.
func (s RequirementSpec) CriticalModels() []string {
	var out []string
	for _, m := range s.Models {
		if m.Critical {
			out = append(out, m.Name)
		}
	}
	return out
}

// KBRefs returns every cited knowledge base ref.
func (s RequirementSpec) KBRefs() []string {
	out := append([]string(nil), s.KBThresholds...)
	return append(out, s.KBPlaybooks...)
}

// NeedsData reports whether the intent issues any adapter request.
func (s RequirementSpec) NeedsData() bool {
	return len(s.Signals) > 0 || s.NeedsEvents
}

// ComputeFunc runs an intent's computations.
type ComputeFunc func(ctx context.Context, x *Exec) (*Fragment, error)

// Definition is one registered intent.
type Definition struct {
	Kind Kind
	// Keywords select the intent. Matching is case-insensitive on word
	// prefixes, so "degrad" matches "degrading".
	Keywords []string
	// Triggers, when set, must also appear for the intent to match.
	Triggers  []string
	DependsOn []Kind
	Spec      RequirementSpec
	Compute   ComputeFunc
}

// Info describes the definition for listings.
func (d *Definition) Info() types.IntentInfo {
	deps := make([]string, 0, len(d.DependsOn))
	for _, k := range d.DependsOn {
		deps = append(deps, string(k))
	}
	keywords := append(append([]string(nil), d.Keywords...), d.Triggers...)
	return types.IntentInfo{
		Kind:       string(d.Kind),
		Keywords:   keywords,
		DependsOn:  deps,
		MinAssets:  d.Spec.MinAssets,
		Signals:    d.Spec.SignalNames(),
		MinHorizon: d.Spec.MinHorizon.String(),
	}
}

// Fragment is one intent's contribution to the answer.
type Fragment struct {
	Intent     Kind
	Answer     string
	Data       map[string]any
	Hypotheses []types.Hypothesis
}

// Outcome is what a finished intent exposes to its dependents.
type Outcome struct {
	Kind         Kind
	Aborted      bool
	Reason       string
	Fragment     *Fragment
	Computations []types.Computation
}

// Computation returns the first computation named name whose asset_id
// output equals asset. An empty asset matches any.
func (o *Outcome) Computation(name, asset string) (types.Computation, bool) {
	if o == nil {
		return types.Computation{}, false
	}
	for _, c := range o.Computations {
		if c.Name != name {
			continue
		}
		if asset == "" || c.Outputs["asset_id"] == asset {
			return c, true
		}
	}
	return types.Computation{}, false
}
