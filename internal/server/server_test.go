package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters/knowledge"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/model"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/telemetry"
	"github.com/kubilitics/kubilitics-brain/internal/db"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// fakeBrain returns canned results.
type fakeBrain struct {
	askErr  error
	saveErr error
	saved   []string
	got     types.Question
}

func (f *fakeBrain) Ask(_ context.Context, q types.Question) (*types.BrainResponse, error) {
	f.got = q
	if f.askErr != nil {
		return nil, f.askErr
	}
	answer := "rack_02 is degrading faster"
	return &types.BrainResponse{
		Answer:   &answer,
		Evidence: types.EvidenceBundle{EvidenceID: "ev-1", Intent: "soh_trend_compare"},
	}, nil
}

func (f *fakeBrain) Intents() []types.IntentInfo {
	return []types.IntentInfo{{Kind: "soh_trend_compare", MinAssets: 1}}
}

func (f *fakeBrain) Save(_ context.Context, _ types.Question, resp *types.BrainResponse) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, resp.Evidence.EvidenceID)
	return nil
}

func (f *fakeBrain) GetResponse(_ context.Context, id string) (*types.BrainResponse, error) {
	if id != "ev-1" {
		return nil, fmt.Errorf("response %s: %w", id, db.ErrNotFound)
	}
	return &types.BrainResponse{Evidence: types.EvidenceBundle{EvidenceID: id}}, nil
}

func (f *fakeBrain) ListResponses(_ context.Context, limit, offset int) ([]*db.ResponseRecord, error) {
	return nil, engine.ErrNoStore
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return fmt.Errorf("database is closed") }

func newTestServer(t *testing.T, brain engine.Brain, store Pinger) *Server {
	t.Helper()
	s, err := NewServer(&Config{Host: "127.0.0.1"}, brain, store, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(nil, &fakeBrain{}, nil, nil); err == nil {
		t.Error("Expected error for nil config, got nil")
	}
	if _, err := NewServer(&Config{}, nil, nil, nil); err == nil {
		t.Error("Expected error for nil brain, got nil")
	}
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, &fakeBrain{}, nil).Handler()
	if w := do(h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /healthz, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /readyz without archive, got %d", w.Code)
	}

	down := newTestServer(t, &fakeBrain{}, downStore{}).Handler()
	if w := do(down, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /readyz with unreachable store, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/healthz", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST /healthz, got %d", w.Code)
	}
}

func TestAsk(t *testing.T) {
	brain := &fakeBrain{}
	h := newTestServer(t, brain, nil).Handler()

	body := `{"question":"Why is rack_02 degrading faster than rack_01?","assets":["rack_01","rack_02"],
		"start":"2025-12-01T00:00:00Z","end":"2025-12-15T00:00:00Z","boundary":"2025-12-08T00:00:00Z"}`
	w := do(h, http.MethodPost, "/v1/ask?persist=true", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.BrainResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Evidence.EvidenceID != "ev-1" {
		t.Errorf("Expected evidence id ev-1, got %q", resp.Evidence.EvidenceID)
	}
	if len(brain.saved) != 1 {
		t.Errorf("Expected response to be persisted once, got %v", brain.saved)
	}
	if brain.got.Boundary == nil || !brain.got.Boundary.Equal(time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected boundary to be parsed, got %v", brain.got.Boundary)
	}
}

func TestAsk_Errors(t *testing.T) {
	tests := []struct {
		name   string
		brain  *fakeBrain
		query  string
		body   string
		status int
		code   string
	}{
		{"bad json", &fakeBrain{}, "", `{"question":`, http.StatusBadRequest, "malformed_question"},
		{"unknown field", &fakeBrain{}, "", `{"question":"x","asset":["a"]}`, http.StatusBadRequest, "malformed_question"},
		{"bad time", &fakeBrain{}, "", `{"question":"x","assets":["a"],"boundary":"tuesday"}`, http.StatusBadRequest, "malformed_question"},
		{"unrecognized", &fakeBrain{askErr: fmt.Errorf("%w: weather", intent.ErrUnrecognizedIntent)}, "", `{"question":"weather?","assets":["a"]}`, http.StatusBadRequest, "unrecognized_intent"},
		{"missing assets", &fakeBrain{askErr: intent.ErrMissingAssets}, "", `{"question":"soh trend"}`, http.StatusBadRequest, "missing_assets"},
		{"internal", &fakeBrain{askErr: fmt.Errorf("boom")}, "", `{"question":"x","assets":["a"]}`, http.StatusInternalServerError, "internal"},
		{"no archive", &fakeBrain{saveErr: engine.ErrNoStore}, "?persist=1", `{"question":"x","assets":["a"]}`, http.StatusServiceUnavailable, "archive_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.brain, nil).Handler()
			w := do(h, http.MethodPost, "/v1/ask"+tt.query, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if e := decodeError(t, w); e.Code != tt.code {
				t.Errorf("Expected code %q, got %q", tt.code, e.Code)
			}
		})
	}
}

func TestAsk_RateLimited(t *testing.T) {
	s, err := NewServer(&Config{RateLimitPerMinute: 1}, &fakeBrain{}, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer s.limiter.Stop()
	h := s.Handler()

	body := `{"question":"x","assets":["a"]}`
	if w := do(h, http.MethodPost, "/v1/ask", body); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}
	w := do(h, http.MethodPost, "/v1/ask", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	// Other routes are not limited.
	if w := do(h, http.MethodGet, "/v1/intents", ""); w.Code != http.StatusOK {
		t.Errorf("Expected /v1/intents to pass, got %d", w.Code)
	}
}

func TestResponses(t *testing.T) {
	h := newTestServer(t, &fakeBrain{}, nil).Handler()

	if w := do(h, http.MethodGet, "/v1/responses/ev-1", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for archived response, got %d", w.Code)
	}
	w := do(h, http.MethodGet, "/v1/responses/ev-404", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != "not_found" {
		t.Errorf("Expected code not_found, got %q", e.Code)
	}
	if w := do(h, http.MethodGet, "/v1/responses", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without archive, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/v1/responses?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for limit=0, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/v1/responses?offset=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative offset, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeBrain{}, nil).Handler()
	w := do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "brain_") {
		t.Error("Expected brain metrics to be exposed")
	}
}

// TestEngineRoundTrip runs the real engine against the synthetic fleet and
// reads the archived response back over HTTP.
func TestEngineRoundTrip(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer store.Close()
	kb, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default() error: %v", err)
	}
	brain, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Telemetry: telemetry.NewAdapter("synthetic", telemetry.GenerateSynthetic(telemetry.DefaultSyntheticConfig())),
		Models:    model.NewRunner(10),
		KB:        kb,
		Store:     store,
		Synthetic: true,
	})
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	h := newTestServer(t, brain, store).Handler()

	w := do(h, http.MethodPost, "/v1/ask?persist=true",
		`{"question":"Why is rack_02 degrading faster than rack_01?","assets":["rack_01","rack_02"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.BrainResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Evidence.EvidenceID == "" {
		t.Fatal("Expected an evidence id")
	}

	w = do(h, http.MethodGet, "/v1/responses/"+resp.Evidence.EvidenceID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected archived response, got %d: %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodGet, "/v1/responses?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing responses, got %d", w.Code)
	}
	var page struct {
		Responses []db.ResponseRecord `json:"responses"`
	}
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Responses) != 1 || page.Responses[0].EvidenceID != resp.Evidence.EvidenceID {
		t.Errorf("Expected one archived response, got %+v", page.Responses)
	}

	w = do(h, http.MethodGet, "/v1/intents", "")
	if !strings.Contains(w.Body.String(), "degradation_explanation") {
		t.Errorf("Expected registered intents, got %s", w.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	s, err := NewServer(&Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second, RateLimitPerMinute: 10}, &fakeBrain{}, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("Expected error starting twice, got nil")
	}
	if !s.IsRunning() {
		t.Error("Expected server to be running")
	}

	res, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", res.StatusCode)
	}
	if res.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got %q", res.Header.Get("Content-Type"))
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if err := s.Stop(context.Background()); err == nil {
		t.Error("Expected error stopping twice, got nil")
	}
}
