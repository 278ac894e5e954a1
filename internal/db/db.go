package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that expect exactly one row.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface of the brain.
type Store interface {
	ResponseStore
	KnowledgeStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Response archive ─────────────────────────────────────────────────────────

// ResponseRecord is an archived BrainResponse. Body holds the full JSON
// document exactly as it was emitted; the other columns are for listing.
type ResponseRecord struct {
	EvidenceID string    `json:"evidence_id"`
	Question   string    `json:"question"`
	Assets     []string  `json:"assets"`
	Intents    []string  `json:"intents"`
	Role       string    `json:"role"`
	Band       string    `json:"band"`
	Escalation string    `json:"escalation"`
	Answered   bool      `json:"answered"`
	Body       string    `json:"body,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResponseStore archives finalized responses. Records are write-once.
type ResponseStore interface {
	// SaveResponse stores a response. Saving an evidence id twice fails.
	SaveResponse(ctx context.Context, rec *ResponseRecord) error

	// GetResponse retrieves a response by evidence id.
	// Returns ErrNotFound when no such response exists.
	GetResponse(ctx context.Context, evidenceID string) (*ResponseRecord, error)

	// ListResponses returns responses newest first, without bodies.
	ListResponses(ctx context.Context, limit, offset int) ([]*ResponseRecord, error)
}

// ─── Knowledge base mirror ────────────────────────────────────────────────────

// KBArtifactRecord is one knowledge-base artifact.
type KBArtifactRecord struct {
	Kind           string    `json:"kind"` // definition | playbook | threshold | template
	Ref            string    `json:"ref"`
	Summary        string    `json:"summary"`
	Value          *float64  `json:"value,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	SafetyRelevant bool      `json:"safety_relevant"`
	Body           string    `json:"body,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KnowledgeStore mirrors the knowledge base.
type KnowledgeStore interface {
	// SaveKBArtifact creates or replaces an artifact.
	SaveKBArtifact(ctx context.Context, rec *KBArtifactRecord) error

	// GetKBArtifact reads an artifact.
	// Returns nil, nil when the artifact does not exist.
	GetKBArtifact(ctx context.Context, kind, ref string) (*KBArtifactRecord, error)

	// ListKBArtifacts returns every artifact ordered by kind then ref.
	ListKBArtifacts(ctx context.Context) ([]*KBArtifactRecord, error)
}
