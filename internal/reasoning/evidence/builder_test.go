package evidence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

func newTestBuilder() *Builder {
	return NewBuilder(Header{
		EvidenceID:  "ev_test",
		GeneratedAt: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC),
		Question:    "Which rack is degrading faster?",
		Intent:      "soh_trend_compare",
		Role:        "asset_manager",
	})
}

func TestNewID(t *testing.T) {
	id := NewID(time.Date(2025, 12, 15, 9, 30, 5, 0, time.FixedZone("x", 3600)))
	assert.Regexp(t, regexp.MustCompile(`^ev_20251215T083005Z_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewID(time.Date(2025, 12, 15, 9, 30, 5, 0, time.UTC)))
}

func TestNewBuilderGeneratesHeader(t *testing.T) {
	b := NewBuilder(Header{Question: "q"})
	assert.NotEmpty(t, b.ID())

	bundle, err := b.Finalize()
	require.NoError(t, err)
	assert.False(t, bundle.GeneratedAt.IsZero())
	assert.Equal(t, b.ID(), bundle.EvidenceID)
}

func TestFinalizeOnce(t *testing.T) {
	b := newTestBuilder()
	require.NoError(t, b.RecordGap(types.GapKnowledge, types.SeveritySoft, "missing playbook"))

	bundle, err := b.Finalize()
	require.NoError(t, err)
	assert.Len(t, bundle.AssumptionsAndGaps.Gaps, 1)

	_, err = b.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
	assert.ErrorIs(t, b.RecordGap(types.GapKnowledge, types.SeveritySoft, "late"), ErrFinalized)
	assert.ErrorIs(t, b.RecordDataUsed(types.DataUsed{}), ErrFinalized)
}

func TestFinalizeEmptyListsAreNotNull(t *testing.T) {
	bundle, err := newTestBuilder().Finalize()
	require.NoError(t, err)

	raw, err := json.Marshal(bundle)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "null")
}

func TestRecordComputationRegistersAssumptions(t *testing.T) {
	b := newTestBuilder()
	s := b.Scope("soh_trend_compare")

	require.NoError(t, s.RecordComputation(types.Computation{
		Name:           "soh_slope_compare",
		Method:         "endpoint slope",
		Outputs:        map[string]any{"winner": "rack_02"},
		AssumptionRefs: []string{AssumpSoHIsValidProxy, AssumpLinearFade},
	}))
	require.NoError(t, s.RecordComputation(types.Computation{
		Name:           "soh_fade_rate",
		AssumptionRefs: []string{AssumpLinearFade},
	}))
	require.NoError(t, s.Commit())

	bundle, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, bundle.Computations, 2)
	assert.Equal(t, "soh_trend_compare", bundle.Computations[0].Intent)

	assumptions := bundle.AssumptionsAndGaps.Assumptions
	require.Len(t, assumptions, 2, "refs are recorded once per intent")
	assert.Equal(t, AssumpSoHIsValidProxy, assumptions[0].Ref)
	assert.NotEmpty(t, assumptions[0].Description)
}

func TestUnknownAssumptionRejected(t *testing.T) {
	s := newTestBuilder().Scope("x")
	err := s.RecordComputation(types.Computation{Name: "c", AssumptionRefs: []string{"ASSUMP_NOPE"}})
	assert.ErrorIs(t, err, ErrUnknownAssumption)
	assert.Empty(t, s.Computations())

	assert.ErrorIs(t, s.RecordAssumption("ASSUMP_NOPE"), ErrUnknownAssumption)
}

func TestScopeCommitPreservesOrder(t *testing.T) {
	b := newTestBuilder()
	first := b.Scope("a")
	second := b.Scope("b")

	for i := 0; i < 3; i++ {
		require.NoError(t, second.RecordGap(types.GapAdapter, types.SeveritySoft, fmt.Sprintf("b%d", i)))
		require.NoError(t, first.RecordGap(types.GapAdapter, types.SeveritySoft, fmt.Sprintf("a%d", i)))
	}
	require.NoError(t, first.Commit())
	require.NoError(t, second.Commit())

	bundle, err := b.Finalize()
	require.NoError(t, err)

	var notes []string
	for _, g := range bundle.AssumptionsAndGaps.Gaps {
		notes = append(notes, g.Intent+":"+g.Note)
	}
	assert.Equal(t, []string{"a:a0", "a:a1", "a:a2", "b:b0", "b:b1", "b:b2"}, notes)
}

func TestScopeCommitOnce(t *testing.T) {
	s := newTestBuilder().Scope("a")
	require.NoError(t, s.Commit())
	assert.ErrorIs(t, s.Commit(), ErrCommitted)
	assert.ErrorIs(t, s.RecordGap("x", "soft", "late"), ErrCommitted)
}

func TestScopeCommitAfterFinalize(t *testing.T) {
	b := newTestBuilder()
	s := b.Scope("a")
	_, err := b.Finalize()
	require.NoError(t, err)
	assert.ErrorIs(t, s.Commit(), ErrFinalized)
}

func TestScopeLookups(t *testing.T) {
	s := newTestBuilder().Scope("anomaly_scan_temp")
	require.NoError(t, s.RecordDataUsed(types.DataUsed{SourceName: "synthetic"}))
	require.NoError(t, s.RecordComputation(types.Computation{Name: "temperature_spike_scan", Outputs: map[string]any{"n": 1}}))
	require.NoError(t, s.RecordComputation(types.Computation{Name: "temperature_spike_scan", Outputs: map[string]any{"n": 2}}))
	require.NoError(t, s.RecordGap(types.GapTelemetryInterruption, types.SeveritySoft, "gap"))

	c, ok := s.Computation("temperature_spike_scan")
	require.True(t, ok)
	assert.Equal(t, 2, c.Outputs["n"])
	_, ok = s.Computation("missing")
	assert.False(t, ok)

	assert.Len(t, s.DataUsed(), 1)
	assert.Equal(t, "anomaly_scan_temp", s.DataUsed()[0].Intent)
	assert.False(t, s.HasCritical())

	require.NoError(t, s.RecordGap(types.GapInsufficientData, types.SeverityCritical, "no rows"))
	assert.True(t, s.HasCritical())
}

func TestAttachmentsAndRiskNotes(t *testing.T) {
	b := newTestBuilder()
	s := b.Scope("a")
	require.NoError(t, s.AddAttachment(AttachmentTable, "per_asset_slopes"))
	assert.Error(t, s.AddAttachment("videos", "x"))
	require.NoError(t, s.Commit())
	require.NoError(t, b.AddAttachment(AttachmentLink, "kb://playbook/x"))
	require.NoError(t, b.AddRiskNote("first"))
	require.NoError(t, b.AddRiskNote("second"))

	bundle, err := b.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"per_asset_slopes"}, bundle.Attachments.Tables)
	assert.Equal(t, []string{"kb://playbook/x"}, bundle.Attachments.Links)
	assert.Equal(t, "first; second", bundle.AssumptionsAndGaps.RiskNotes)
}

func TestConcurrentScopes(t *testing.T) {
	b := newTestBuilder()
	scopes := make([]*Scope, 8)
	for i := range scopes {
		scopes[i] = b.Scope(fmt.Sprintf("intent_%d", i))
	}

	var wg sync.WaitGroup
	for _, s := range scopes {
		wg.Add(1)
		go func(s *Scope) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.RecordDataUsed(types.DataUsed{RowCount: j})
			}
		}(s)
	}
	wg.Wait()
	for _, s := range scopes {
		require.NoError(t, s.Commit())
	}

	bundle, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, bundle.DataUsed, 8*50)
	for i, d := range bundle.DataUsed {
		assert.Equal(t, fmt.Sprintf("intent_%d", i/50), d.Intent)
		assert.Equal(t, i%50, d.RowCount)
	}
}

func TestRegistry(t *testing.T) {
	refs := Refs()
	assert.Contains(t, refs, AssumpMidpointBoundary)
	for _, ref := range refs {
		d, ok := Describe(ref)
		assert.True(t, ok)
		assert.NotEmpty(t, d)
	}
	_, ok := Describe("nope")
	assert.False(t, ok)
}
