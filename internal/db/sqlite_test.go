package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Responses ────────────────────────────────────────────────────────────────

func TestResponseSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &ResponseRecord{
		EvidenceID: "ev_20251215T000000Z_0a1b2c3d",
		Question:   "Which rack is degrading faster, and why?",
		Assets:     []string{"rack_01", "rack_02"},
		Intents:    []string{"soh_trend_compare", "anomaly_scan_temp", "degradation_explanation"},
		Role:       "asset_manager",
		Band:       "medium",
		Escalation: "ask_followup",
		Answered:   true,
		Body:       `{"answer":"rack_02"}`,
		CreatedAt:  time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SaveResponse(ctx, rec); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	got, err := s.GetResponse(ctx, rec.EvidenceID)
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if got.Body != rec.Body {
		t.Errorf("expected body %q, got %q", rec.Body, got.Body)
	}
	if len(got.Assets) != 2 || got.Assets[1] != "rack_02" {
		t.Errorf("unexpected assets: %v", got.Assets)
	}
	if len(got.Intents) != 3 {
		t.Errorf("expected 3 intents, got %v", got.Intents)
	}
	if !got.Answered || got.Band != "medium" || got.Escalation != "ask_followup" {
		t.Errorf("unexpected verdict: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
}

func TestResponseWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &ResponseRecord{EvidenceID: "ev_1", Question: "q", Band: "low", Escalation: "ask_followup", Body: "{}"}
	if err := s.SaveResponse(ctx, rec); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	if err := s.SaveResponse(ctx, rec); err == nil {
		t.Error("expected error when saving the same evidence id twice")
	}
}

func TestResponseNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetResponse(context.Background(), "ev_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResponseEmptyID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveResponse(context.Background(), &ResponseRecord{Body: "{}"}); err == nil {
		t.Error("expected error for empty evidence id")
	}
}

func TestListResponsesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"ev_a", "ev_b", "ev_c"} {
		rec := &ResponseRecord{
			EvidenceID: id,
			Question:   "q",
			Band:       "high",
			Escalation: "none",
			Body:       `{"big":"body"}`,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.SaveResponse(ctx, rec); err != nil {
			t.Fatalf("SaveResponse %s: %v", id, err)
		}
	}

	list, err := s.ListResponses(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].EvidenceID != "ev_c" || list[1].EvidenceID != "ev_b" {
		t.Errorf("unexpected order: %s, %s", list[0].EvidenceID, list[1].EvidenceID)
	}
	if list[0].Body != "" {
		t.Errorf("list should not carry bodies, got %q", list[0].Body)
	}

	rest, err := s.ListResponses(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListResponses offset: %v", err)
	}
	if len(rest) != 1 || rest[0].EvidenceID != "ev_a" {
		t.Errorf("unexpected page: %+v", rest)
	}
}

// ─── Knowledge base ───────────────────────────────────────────────────────────

func TestKBArtifactUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := 80.0
	rec := &KBArtifactRecord{Kind: "threshold", Ref: "soh_end_of_life_pct", Summary: "EOL", Value: &v, Unit: "percent"}
	if err := s.SaveKBArtifact(ctx, rec); err != nil {
		t.Fatalf("SaveKBArtifact: %v", err)
	}

	got, err := s.GetKBArtifact(ctx, "threshold", "soh_end_of_life_pct")
	if err != nil {
		t.Fatalf("GetKBArtifact: %v", err)
	}
	if got == nil || got.Value == nil || *got.Value != 80 {
		t.Fatalf("unexpected artifact: %+v", got)
	}

	v2 := 75.0
	rec.Value = &v2
	if err := s.SaveKBArtifact(ctx, rec); err != nil {
		t.Fatalf("SaveKBArtifact update: %v", err)
	}
	got, err = s.GetKBArtifact(ctx, "threshold", "soh_end_of_life_pct")
	if err != nil {
		t.Fatalf("GetKBArtifact: %v", err)
	}
	if *got.Value != 75 {
		t.Errorf("expected updated value 75, got %v", *got.Value)
	}
}

func TestKBArtifactMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetKBArtifact(context.Background(), "playbook", "nope")
	if err != nil {
		t.Fatalf("GetKBArtifact: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestKBArtifactRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveKBArtifact(context.Background(), &KBArtifactRecord{Kind: "rumour", Ref: "x"})
	if err == nil {
		t.Error("expected check constraint failure for unknown kind")
	}
}

func TestListKBArtifactsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, rec := range []*KBArtifactRecord{
		{Kind: "template", Ref: "b"},
		{Kind: "definition", Ref: "soh"},
		{Kind: "definition", Ref: "soc", Summary: "state of charge"},
	} {
		if err := s.SaveKBArtifact(ctx, rec); err != nil {
			t.Fatalf("SaveKBArtifact: %v", err)
		}
	}

	list, err := s.ListKBArtifacts(ctx)
	if err != nil {
		t.Fatalf("ListKBArtifacts: %v", err)
	}
	var got []string
	for _, r := range list {
		got = append(got, r.Kind+"/"+r.Ref)
	}
	want := []string{"definition/soc", "definition/soh", "template/b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if list[0].Value != nil {
		t.Errorf("expected nil value for definition, got %v", *list[0].Value)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.(*sqliteStore).migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
