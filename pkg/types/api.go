package types

// Package types defines the public request/response contracts of the brain.
//
// These types are the stable JSON wire format shared by the CLI and the HTTP API.

import "time"

// Request types

// TimeWindow is a half-open [Start, End) interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the span of the window.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Contains reports whether t falls inside [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Question is one request to the brain. It is immutable once validated.
type Question struct {
	Text     string     `json:"question" validate:"required"`
	Assets   []string   `json:"assets" validate:"required,min=1,dive,required,assetid"`
	Role     string     `json:"role,omitempty" validate:"omitempty,oneof=asset_manager operator analyst engineer"`
	Window   TimeWindow `json:"window"`
	Boundary *time.Time `json:"boundary,omitempty"`
	Intents  []string   `json:"intents,omitempty"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string   `json:"question"`
	Assets   []string `json:"assets"`
	Role     string   `json:"role,omitempty"`
	Start    string   `json:"start,omitempty"` // RFC3339
	End      string   `json:"end,omitempty"`
	Boundary string   `json:"boundary,omitempty"`
	Intents  []string `json:"intents,omitempty"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IntentInfo describes a registered intent.
type IntentInfo struct {
	Kind       string   `json:"kind"`
	Keywords   []string `json:"keywords"`
	DependsOn  []string `json:"depends_on,omitempty"`
	MinAssets  int      `json:"min_assets"`
	Signals    []string `json:"signals"`
	MinHorizon string   `json:"min_horizon"`
}
