package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

func TestCausalWording(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Spikes caused the fade.", "caused"},
		{"Fade is because of heat.", "because"},
		{"Fade due to heat.", "due to"},
		{"The spike led to faster fade.", "led to"},
		{"Heat results in fade.", "results in"},
		{"Heat Causes fade.", "Causes"},
		{"Spikes are a plausible contributor to the fade.", ""},
		{"Causality of the becausal kind", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, CausalWording(tt.text))
		})
	}
}

func computations() []types.Computation {
	return []types.Computation{
		{Intent: "soh_trend_compare", Name: "soh_slope_estimate", Outputs: map[string]any{"asset_id": "rack_02"}},
		{Intent: "degradation_explanation", Name: "degradation_anomaly_link", Outputs: map[string]any{"asset_id": "rack_02"}},
	}
}

func hypothesis() types.Hypothesis {
	return types.Hypothesis{
		Statement: "Spikes on rack_02 are a plausible contributor to its fade.",
		Type:      types.HypothesisPlausibleContributor,
		SupportingComputations: []string{
			"soh_trend_compare/soh_slope_estimate[rack_02]",
			"degradation_anomaly_link[rack_02]",
		},
		Limitations: []string{"Association only."},
	}
}

func TestLinkKeepsValidHypotheses(t *testing.T) {
	frag := &intent.Fragment{Intent: intent.KindDegradationExplanation, Answer: "Linked.", Hypotheses: []types.Hypothesis{hypothesis()}}

	got := Link([]*intent.Fragment{nil, frag}, computations())
	require.Len(t, got.Fragments, 1)
	assert.Len(t, got.Hypotheses, 1)
	assert.Empty(t, got.Rejections)
	assert.Equal(t, "Linked.", got.Fragments[0].Answer)
}

func TestLinkRejectsHypotheses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *types.Hypothesis)
		why    string
	}{
		{"wrong type", func(h *types.Hypothesis) { h.Type = "cause" }, "is not plausible_contributor"},
		{"causal", func(h *types.Hypothesis) { h.Statement = "Spikes caused the fade." }, "causal wording"},
		{"no limitations", func(h *types.Hypothesis) { h.Limitations = nil }, "no limitations"},
		{"no support", func(h *types.Hypothesis) { h.SupportingComputations = nil }, "no supporting"},
		{"unknown computation", func(h *types.Hypothesis) {
			h.SupportingComputations = []string{"anomaly_scan_temp/temperature_spike_scan[rack_02]"}
		}, "not recorded"},
		{"wrong asset", func(h *types.Hypothesis) {
			h.SupportingComputations = []string{"degradation_anomaly_link[rack_01]"}
		}, "not recorded"},
		{"malformed ref", func(h *types.Hypothesis) { h.SupportingComputations = []string{"Not A Ref"} }, "not recorded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hypothesis()
			tt.mutate(&h)
			frag := &intent.Fragment{
				Intent:     intent.KindDegradationExplanation,
				Answer:     h.Statement + " This is an association in time.",
				Hypotheses: []types.Hypothesis{h},
			}

			got := Link([]*intent.Fragment{frag}, computations())
			assert.Empty(t, got.Hypotheses)
			assert.Empty(t, got.Fragments[0].Hypotheses)
			// The unsupported statement leaves the answer with its hypothesis.
			assert.Equal(t, "This is an association in time.", got.Fragments[0].Answer)
			require.Len(t, got.Rejections, 1)
			assert.Contains(t, got.Rejections[0], tt.why)
		})
	}
}

func TestLinkStripsCausalSentences(t *testing.T) {
	frag := &intent.Fragment{
		Intent: intent.KindSoHTrendCompare,
		Answer: "rack_02 fades at -0.0072 %/day. This is due to heat. rack_01 fades at -0.0018 %/day.",
	}
	got := Link([]*intent.Fragment{frag}, nil)
	assert.Equal(t, "rack_02 fades at -0.0072 %/day. rack_01 fades at -0.0018 %/day.", got.Fragments[0].Answer)
	require.Len(t, got.Rejections, 1)
	assert.Contains(t, got.Rejections[0], `"due to"`)
	// The input fragment is untouched.
	assert.Contains(t, frag.Answer, "due to")
}

func TestAssembleAnswer(t *testing.T) {
	linked := Link([]*intent.Fragment{
		{Intent: intent.KindSoHTrendCompare, Answer: "rack_02 is faster.", Data: map[string]any{"winner": "rack_02"}},
		{
			Intent:     intent.KindDegradationExplanation,
			Answer:     "Heat is a plausible contributor.",
			Data:       map[string]any{"linked_assets": []string{"rack_02"}},
			Hypotheses: []types.Hypothesis{hypothesis()},
		},
	}, computations())

	resp := NewAssembler(zap.NewNop()).Assemble(Input{
		Assessment: types.ConfidenceAssessment{Band: types.BandMedium, Escalation: types.EscalationAskFollowup},
		Linked:     linked,
		Statuses: []IntentStatus{
			{Kind: intent.KindSoHTrendCompare, State: "done"},
			{Kind: intent.KindDegradationExplanation, State: "done"},
		},
	})

	require.NotNil(t, resp.Answer)
	assert.Equal(t, "rack_02 is faster. Heat is a plausible contributor.", *resp.Answer)
	assert.Equal(t, []string{"soh_trend_compare", "degradation_explanation"}, resp.Data["intents"])
	assert.Equal(t, map[string]any{
		"soh_trend_compare":       map[string]any{"winner": "rack_02"},
		"degradation_explanation": map[string]any{"linked_assets": []string{"rack_02"}},
	}, resp.Data["results"])
	assert.NotContains(t, resp.Data, "pipeline")

	hs := resp.Data["hypotheses"].([]types.Hypothesis)
	require.Len(t, hs, 1)
	assert.Equal(t, types.BandMedium, hs[0].Confidence)
	assert.NotContains(t, resp.Data, "refusal")
	assert.NotContains(t, resp.Data, "aborted")
}

func TestAssembleRefusal(t *testing.T) {
	bundle := types.EvidenceBundle{AssumptionsAndGaps: types.AssumptionsAndGaps{Gaps: []types.Gap{
		{Category: types.GapAssetIdentity, Severity: types.SeverityCritical, Note: "asset_id rack_99 not found"},
		{Category: types.GapKnowledge, Severity: types.SeveritySoft, Note: "ignored"},
	}}}
	statuses := []IntentStatus{{Kind: intent.KindAnomalyScanTemp, State: "aborted", Reason: "unknown asset"}}

	tests := []struct {
		name     string
		template *adapters.Artifact
		want     string
	}{
		{
			"template",
			&adapters.Artifact{Ref: RefusalTemplate, Kind: adapters.ArtifactTemplate, Body: "Cannot answer. {{ .Gaps }}"},
			"Cannot answer. asset_id rack_99 not found",
		},
		{"no template", nil, "Not enough evidence to answer this question. asset_id rack_99 not found"},
		{
			"broken template",
			&adapters.Artifact{Ref: RefusalTemplate, Body: "{{ .Missing }}"},
			"Not enough evidence to answer this question. asset_id rack_99 not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewAssembler(nil).Assemble(Input{
				Bundle:     bundle,
				Assessment: types.ConfidenceAssessment{Band: types.BandLow, Escalation: types.EscalationHumanReview},
				Statuses:   statuses,
				Refusal:    tt.template,
			})
			assert.Nil(t, resp.Answer)
			assert.Equal(t, tt.want, resp.Data["refusal"])
			assert.Equal(t, map[string]string{"anomaly_scan_temp": "unknown asset"}, resp.Data["aborted"])
			assert.Equal(t, map[string]string{"anomaly_scan_temp": "aborted"}, resp.Data["intent_states"])
		})
	}
}
