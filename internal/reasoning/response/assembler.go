package response

// Package response turns a finalized evidence bundle, its assessment and the
// per-intent fragments into the BrainResponse wire artifact.
//
// The assembler never computes: every number it places in data comes from a
// fragment, and fragments copy their numbers from recorded computations.
// When no intent produced a fragment the answer is null and data carries a
// refusal rendered from the knowledge base template.

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/knowledge"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// RefusalTemplate is the KB template rendered when nothing can be answered.
const RefusalTemplate = "insufficient_data_refusal"

const fallbackRefusal = "Not enough evidence to answer this question."

// IntentStatus is the final state of one planned intent.
type IntentStatus struct {
	Kind   intent.Kind
	State  string
	Reason string
}

// Input is everything the assembler needs.
type Input struct {
	Bundle     types.EvidenceBundle
	Assessment types.ConfidenceAssessment
	// Linked carries fragments of non-aborted intents in plan order.
	Linked   Linked
	Statuses []IntentStatus
	// Refusal is the refusal template, when the knowledge base has one.
	Refusal *adapters.Artifact
}

// Assembler builds responses.
type Assembler struct {
	logger *zap.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{logger: logger}
}

// Assemble builds the response for in.
func (a *Assembler) Assemble(in Input) types.BrainResponse {
	states := map[string]string{}
	for _, s := range in.Statuses {
		states[string(s.Kind)] = s.State
	}
	data := map[string]any{
		"intents":       intentNames(in.Statuses),
		"intent_states": states,
	}

	results := map[string]any{}
	var parts []string
	for _, f := range in.Linked.Fragments {
		if f.Answer != "" {
			parts = append(parts, f.Answer)
		}
		if f.Data != nil {
			results[string(f.Intent)] = f.Data
		}
	}
	data["results"] = results

	hypotheses := make([]types.Hypothesis, 0, len(in.Linked.Hypotheses))
	for _, h := range in.Linked.Hypotheses {
		h.Confidence = in.Assessment.Band
		hypotheses = append(hypotheses, h)
	}
	data["hypotheses"] = hypotheses

	aborted := map[string]string{}
	for _, s := range in.Statuses {
		if s.Reason != "" {
			aborted[string(s.Kind)] = s.Reason
		}
	}
	if len(aborted) > 0 {
		data["aborted"] = aborted
	}

	var answer *string
	if len(parts) > 0 {
		text := strings.Join(parts, " ")
		answer = &text
	} else {
		data["refusal"] = a.refusal(in)
	}

	return types.BrainResponse{
		Answer:     answer,
		Confidence: in.Assessment,
		Evidence:   in.Bundle,
		Data:       data,
	}
}

func (a *Assembler) refusal(in Input) string {
	var notes []string
	for _, g := range in.Bundle.AssumptionsAndGaps.Gaps {
		if g.Severity == types.SeverityCritical {
			notes = append(notes, g.Note)
		}
	}
	gaps := strings.Join(notes, "; ")

	if in.Refusal != nil {
		text, err := knowledge.Render(*in.Refusal, map[string]string{"Gaps": gaps})
		if err == nil {
			return text
		}
		a.logger.Warn("Failed to render refusal template", zap.String("template", in.Refusal.Ref), zap.Error(err))
	}
	if gaps == "" {
		return fallbackRefusal
	}
	return fallbackRefusal + " " + gaps
}

func intentNames(statuses []IntentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s.Kind))
	}
	return out
}
