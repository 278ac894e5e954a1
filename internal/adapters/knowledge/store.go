package knowledge

import (
	"context"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/db"
)

// StoreBase serves the knowledge base port from the sqlite artifact mirror.
// A lookup error is logged and reported as absence.
type StoreBase struct {
	store  db.KnowledgeStore
	logger *zap.Logger
}

var _ adapters.KnowledgeBase = (*StoreBase)(nil)

// NewStoreBase wraps store.
func NewStoreBase(store db.KnowledgeStore, logger *zap.Logger) *StoreBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreBase{store: store, logger: logger.Named("knowledge")}
}

// Sync copies every artifact of src into store.
func Sync(ctx context.Context, store db.KnowledgeStore, src *Base) (int, error) {
	n := 0
	for _, a := range src.Artifacts() {
		if err := store.SaveKBArtifact(ctx, toRecord(a)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *StoreBase) get(ctx context.Context, kind, ref string) (adapters.Artifact, bool) {
	rec, err := s.store.GetKBArtifact(ctx, kind, ref)
	if err != nil {
		s.logger.Warn("knowledge lookup failed", zap.String("kind", kind), zap.String("ref", ref), zap.Error(err))
		return adapters.Artifact{}, false
	}
	if rec == nil {
		return adapters.Artifact{}, false
	}
	return fromRecord(rec), true
}

func (s *StoreBase) Definition(ctx context.Context, term string) (adapters.Artifact, bool) {
	return s.get(ctx, adapters.ArtifactDefinition, term)
}

func (s *StoreBase) Playbook(ctx context.Context, name string) (adapters.Artifact, bool) {
	return s.get(ctx, adapters.ArtifactPlaybook, name)
}

func (s *StoreBase) Threshold(ctx context.Context, name string) (adapters.Artifact, bool) {
	return s.get(ctx, adapters.ArtifactThreshold, name)
}

func (s *StoreBase) Template(ctx context.Context, name string) (adapters.Artifact, bool) {
	return s.get(ctx, adapters.ArtifactTemplate, name)
}

func toRecord(a adapters.Artifact) *db.KBArtifactRecord {
	return &db.KBArtifactRecord{
		Kind:           a.Kind,
		Ref:            a.Ref,
		Summary:        a.Summary,
		Value:          a.Value,
		Unit:           a.Unit,
		SafetyRelevant: a.SafetyRelevant,
		Body:           a.Body,
	}
}

func fromRecord(r *db.KBArtifactRecord) adapters.Artifact {
	return adapters.Artifact{
		Ref:            r.Ref,
		Kind:           r.Kind,
		Summary:        r.Summary,
		Value:          r.Value,
		Unit:           r.Unit,
		SafetyRelevant: r.SafetyRelevant,
		Body:           r.Body,
	}
}
