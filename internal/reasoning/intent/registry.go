package intent

import (
	"fmt"
	"sync"
)

// Registry holds intent definitions in declaration order.
type Registry struct {
	mu    sync.RWMutex
	defs  []*Definition
	index map[Kind]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[Kind]int{}}
}

// DefaultRegistry returns a registry with the built-in intents.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range []*Definition{SoHTrendCompare(), AnomalyScanTemp(), DegradationExplanation()} {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds d. Dependencies must already be registered, which keeps the
// dependency graph acyclic.
func (r *Registry) Register(d *Definition) error {
	if d == nil || d.Kind == "" {
		return fmt.Errorf("intent definition without kind")
	}
	if d.Compute == nil {
		return fmt.Errorf("intent %s has no compute function", d.Kind)
	}
	if len(d.Keywords) == 0 {
		return fmt.Errorf("intent %s has no keywords", d.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[d.Kind]; ok {
		return fmt.Errorf("intent %s already registered", d.Kind)
	}
	for _, dep := range d.DependsOn {
		if _, ok := r.index[dep]; !ok {
			return fmt.Errorf("intent %s depends on unregistered intent %s", d.Kind, dep)
		}
	}
	r.index[d.Kind] = len(r.defs)
	r.defs = append(r.defs, d)
	return nil
}

// Lookup returns the definition of kind.
func (r *Registry) Lookup(kind Kind) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[kind]
	if !ok {
		return nil, false
	}
	return r.defs[i], true
}

// Definitions returns every definition in declaration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Definition(nil), r.defs...)
}

func (r *Registry) order(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[kind]
}
