package evidence

// Package evidence records everything a pipeline run touched.
//
// The Builder is append-only and owned by one question. Intents record into
// their own Scope, which keeps a total order within the intent; the engine
// commits scopes into the Builder in plan order once a DAG layer completes, so
// the finalized bundle does not depend on goroutine scheduling.
//
// The Builder records. It never scores, computes or interprets.

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

var (
	// ErrFinalized is returned by any record or finalize call after Finalize.
	ErrFinalized = errors.New("evidence bundle already finalized")
	// ErrCommitted is returned when a scope is recorded into after Commit.
	ErrCommitted = errors.New("evidence scope already committed")
	// ErrUnknownAssumption is returned for refs missing from the registry.
	ErrUnknownAssumption = errors.New("unknown assumption ref")
)

// Attachment kinds.
const (
	AttachmentChart = "charts"
	AttachmentTable = "tables"
	AttachmentLink  = "links"
)

// NewID returns an evidence id of the form ev_<UTC timestamp>_<8 hex>.
func NewID(now time.Time) string {
	return fmt.Sprintf("ev_%s_%s", now.UTC().Format("20060102T150405Z"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Header is the identifying part of a bundle.
type Header struct {
	EvidenceID  string
	GeneratedAt time.Time
	Question    string
	Intent      string
	Role        string
}

// Recorder is the append-only surface handed to pipeline stages.
type Recorder interface {
	RecordDataUsed(d types.DataUsed) error
	RecordComputation(c types.Computation) error
	RecordModelCall(m types.ModelCall) error
	RecordKBRule(r types.KBRule) error
	RecordAssumption(ref string) error
	RecordGap(category, severity, note string) error
	AddAttachment(kind, ref string) error
}

type entries struct {
	dataUsed     []types.DataUsed
	computations []types.Computation
	modelCalls   []types.ModelCall
	kbRules      []types.KBRule
	assumptions  []types.Assumption
	gaps         []types.Gap
	attachments  types.Attachments
}

func (e *entries) hasAssumption(intent, ref string) bool {
	for _, a := range e.assumptions {
		if a.Intent == intent && a.Ref == ref {
			return true
		}
	}
	return false
}

func (e *entries) addAttachment(kind, ref string) error {
	switch kind {
	case AttachmentChart:
		e.attachments.Charts = append(e.attachments.Charts, ref)
	case AttachmentTable:
		e.attachments.Tables = append(e.attachments.Tables, ref)
	case AttachmentLink:
		e.attachments.Links = append(e.attachments.Links, ref)
	default:
		return fmt.Errorf("unknown attachment kind %q", kind)
	}
	return nil
}

// Builder accumulates the evidence of one question.
type Builder struct {
	mu        sync.Mutex
	header    Header
	entries   entries
	riskNotes []string
	finalized bool
}

var _ Recorder = (*Builder)(nil)

// NewBuilder starts a bundle. A missing id or timestamp is generated.
func NewBuilder(h Header) *Builder {
	if h.GeneratedAt.IsZero() {
		h.GeneratedAt = time.Now().UTC()
	}
	if h.EvidenceID == "" {
		h.EvidenceID = NewID(h.GeneratedAt)
	}
	return &Builder{header: h}
}

// ID returns the evidence id.
func (b *Builder) ID() string { return b.header.EvidenceID }

func (b *Builder) locked(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrFinalized
	}
	return fn()
}

// RecordDataUsed appends a data pull.
func (b *Builder) RecordDataUsed(d types.DataUsed) error {
	return b.locked(func() error {
		b.entries.dataUsed = append(b.entries.dataUsed, d)
		return nil
	})
}

// RecordComputation appends a computation. Every cited assumption must be
// registered and is recorded alongside it.
func (b *Builder) RecordComputation(c types.Computation) error {
	return b.locked(func() error {
		if err := checkRefs(c.AssumptionRefs); err != nil {
			return err
		}
		b.entries.computations = append(b.entries.computations, c)
		for _, ref := range c.AssumptionRefs {
			b.addAssumption(c.Intent, ref)
		}
		return nil
	})
}

// RecordModelCall appends a model call, successful or not.
func (b *Builder) RecordModelCall(m types.ModelCall) error {
	return b.locked(func() error {
		b.entries.modelCalls = append(b.entries.modelCalls, m)
		return nil
	})
}

// RecordKBRule appends a consulted knowledge base artifact.
func (b *Builder) RecordKBRule(r types.KBRule) error {
	return b.locked(func() error {
		b.entries.kbRules = append(b.entries.kbRules, r)
		return nil
	})
}

// RecordAssumption records a question-level assumption.
func (b *Builder) RecordAssumption(ref string) error {
	return b.locked(func() error {
		if err := checkRefs([]string{ref}); err != nil {
			return err
		}
		b.addAssumption("", ref)
		return nil
	})
}

func (b *Builder) addAssumption(intent, ref string) {
	if b.entries.hasAssumption(intent, ref) {
		return
	}
	desc, _ := Describe(ref)
	b.entries.assumptions = append(b.entries.assumptions, types.Assumption{Intent: intent, Ref: ref, Description: desc})
}

// RecordGap records a question-level gap.
func (b *Builder) RecordGap(category, severity, note string) error {
	return b.locked(func() error {
		b.entries.gaps = append(b.entries.gaps, types.Gap{Category: category, Severity: severity, Note: note})
		return nil
	})
}

// AddAttachment references a chart, table or link.
func (b *Builder) AddAttachment(kind, ref string) error {
	return b.locked(func() error { return b.entries.addAttachment(kind, ref) })
}

// AddRiskNote adds a note joined into assumptions_and_gaps.risk_notes.
func (b *Builder) AddRiskNote(note string) error {
	return b.locked(func() error {
		b.riskNotes = append(b.riskNotes, note)
		return nil
	})
}

// Computations returns a snapshot of the committed computations.
func (b *Builder) Computations() []types.Computation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Computation(nil), b.entries.computations...)
}

// Gaps returns a snapshot of the committed gaps.
func (b *Builder) Gaps() []types.Gap {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Gap(nil), b.entries.gaps...)
}

// Finalize freezes the builder and returns the bundle. It succeeds once.
func (b *Builder) Finalize() (types.EvidenceBundle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return types.EvidenceBundle{}, ErrFinalized
	}
	b.finalized = true

	e := b.entries
	return types.EvidenceBundle{
		EvidenceID:     b.header.EvidenceID,
		GeneratedAt:    b.header.GeneratedAt,
		Question:       b.header.Question,
		Intent:         b.header.Intent,
		Role:           b.header.Role,
		DataUsed:       orEmpty(e.dataUsed),
		Computations:   orEmpty(e.computations),
		ModelCalls:     orEmpty(e.modelCalls),
		KBRulesApplied: orEmpty(e.kbRules),
		AssumptionsAndGaps: types.AssumptionsAndGaps{
			Assumptions: orEmpty(e.assumptions),
			Gaps:        orEmpty(e.gaps),
			RiskNotes:   strings.Join(b.riskNotes, "; "),
		},
		Attachments: types.Attachments{
			Charts: orEmpty(e.attachments.Charts),
			Tables: orEmpty(e.attachments.Tables),
			Links:  orEmpty(e.attachments.Links),
		},
	}, nil
}

func checkRefs(refs []string) error {
	for _, ref := range refs {
		if _, ok := registry[ref]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAssumption, ref)
		}
	}
	return nil
}

// orEmpty copies s, turning nil into an empty slice so the wire format
// carries [] rather than null.
func orEmpty[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}
