package evidence

import (
	"sync"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Scope buffers the entries of one intent until Commit.
type Scope struct {
	mu        sync.Mutex
	intent    string
	builder   *Builder
	entries   entries
	committed bool
}

var _ Recorder = (*Scope)(nil)

// Scope opens an intent-local buffer on b.
func (b *Builder) Scope(intent string) *Scope {
	return &Scope{intent: intent, builder: b}
}

// Intent returns the intent this scope records for.
func (s *Scope) Intent() string { return s.intent }

func (s *Scope) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return ErrCommitted
	}
	return fn()
}

func (s *Scope) RecordDataUsed(d types.DataUsed) error {
	return s.locked(func() error {
		d.Intent = s.intent
		s.entries.dataUsed = append(s.entries.dataUsed, d)
		return nil
	})
}

func (s *Scope) RecordComputation(c types.Computation) error {
	return s.locked(func() error {
		if err := checkRefs(c.AssumptionRefs); err != nil {
			return err
		}
		c.Intent = s.intent
		if c.Inputs == nil {
			c.Inputs = []string{}
		}
		if c.AssumptionRefs == nil {
			c.AssumptionRefs = []string{}
		}
		s.entries.computations = append(s.entries.computations, c)
		for _, ref := range c.AssumptionRefs {
			s.addAssumption(ref)
		}
		return nil
	})
}

func (s *Scope) RecordModelCall(m types.ModelCall) error {
	return s.locked(func() error {
		m.Intent = s.intent
		if m.Limitations == nil {
			m.Limitations = []string{}
		}
		s.entries.modelCalls = append(s.entries.modelCalls, m)
		return nil
	})
}

func (s *Scope) RecordKBRule(r types.KBRule) error {
	return s.locked(func() error {
		r.Intent = s.intent
		s.entries.kbRules = append(s.entries.kbRules, r)
		return nil
	})
}

func (s *Scope) RecordAssumption(ref string) error {
	return s.locked(func() error {
		if err := checkRefs([]string{ref}); err != nil {
			return err
		}
		s.addAssumption(ref)
		return nil
	})
}

func (s *Scope) addAssumption(ref string) {
	if s.entries.hasAssumption(s.intent, ref) {
		return
	}
	desc, _ := Describe(ref)
	s.entries.assumptions = append(s.entries.assumptions, types.Assumption{Intent: s.intent, Ref: ref, Description: desc})
}

func (s *Scope) RecordGap(category, severity, note string) error {
	return s.locked(func() error {
		s.entries.gaps = append(s.entries.gaps, types.Gap{Intent: s.intent, Category: category, Severity: severity, Note: note})
		return nil
	})
}

func (s *Scope) AddAttachment(kind, ref string) error {
	return s.locked(func() error { return s.entries.addAttachment(kind, ref) })
}

// Computation returns the latest computation recorded under name.
func (s *Scope) Computation(name string) (types.Computation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries.computations) - 1; i >= 0; i-- {
		if s.entries.computations[i].Name == name {
			return s.entries.computations[i], true
		}
	}
	return types.Computation{}, false
}

// Computations returns a snapshot of the scope's computations.
func (s *Scope) Computations() []types.Computation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Computation(nil), s.entries.computations...)
}

// Gaps returns a snapshot of the scope's gaps.
func (s *Scope) Gaps() []types.Gap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Gap(nil), s.entries.gaps...)
}

// DataUsed returns a snapshot of the scope's data pulls.
func (s *Scope) DataUsed() []types.DataUsed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DataUsed(nil), s.entries.dataUsed...)
}

// HasCritical reports whether a critical gap was recorded.
func (s *Scope) HasCritical() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.entries.gaps {
		if g.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}

// Commit appends the scope's entries to the builder, preserving their order.
func (s *Scope) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return ErrCommitted
	}

	b := s.builder
	err := b.locked(func() error {
		e := &b.entries
		e.dataUsed = append(e.dataUsed, s.entries.dataUsed...)
		e.computations = append(e.computations, s.entries.computations...)
		e.modelCalls = append(e.modelCalls, s.entries.modelCalls...)
		e.kbRules = append(e.kbRules, s.entries.kbRules...)
		for _, a := range s.entries.assumptions {
			if !e.hasAssumption(a.Intent, a.Ref) {
				e.assumptions = append(e.assumptions, a)
			}
		}
		e.gaps = append(e.gaps, s.entries.gaps...)
		e.attachments.Charts = append(e.attachments.Charts, s.entries.attachments.Charts...)
		e.attachments.Tables = append(e.attachments.Tables, s.entries.attachments.Tables...)
		e.attachments.Links = append(e.attachments.Links, s.entries.attachments.Links...)
		return nil
	})
	if err != nil {
		return err
	}
	s.committed = true
	return nil
}
