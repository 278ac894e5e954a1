package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Step is one intent of a plan.
type Step struct {
	Def   *Definition
	Layer int
	// Matched is the keyword that selected the intent. Empty for forced
	// intents and pulled-in dependencies.
	Matched string
	// Pulled marks dependencies added because a dependent matched.
	Pulled bool
}

// Plan is the ordered, dependency-closed set of intents for one question.
type Plan struct {
	Steps []Step
}

// Kinds returns the intent kinds in plan order.
func (p *Plan) Kinds() []Kind {
	out := make([]Kind, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Def.Kind)
	}
	return out
}

// Names returns the intent kinds as strings.
func (p *Plan) Names() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, string(s.Def.Kind))
	}
	return out
}

// Layers groups steps by dependency depth. Every intent in a layer depends
// only on intents of earlier layers; order within a layer is plan order.
func (p *Plan) Layers() [][]Step {
	var layers [][]Step
	for _, s := range p.Steps {
		for len(layers) <= s.Layer {
			layers = append(layers, nil)
		}
		layers[s.Layer] = append(layers[s.Layer], s)
	}
	return layers
}

// Resolver maps questions to plans.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

type match struct {
	def     *Definition
	pos     int
	keyword string
}

// Resolve selects the intents for q.
//
// Keyword matches are ordered by the earliest keyword position in the text,
// ties broken by declaration order. Forced intents (q.Intents) skip keyword
// matching. Dependencies are pulled in and placed before their dependents.
func (r *Resolver) Resolve(q types.Question) (*Plan, error) {
	var matches []match
	if len(q.Intents) > 0 {
		seen := map[Kind]bool{}
		for _, name := range q.Intents {
			def, ok := r.registry.Lookup(Kind(name))
			if !ok {
				return nil, fmt.Errorf("%w: %q is not a registered intent", ErrUnrecognizedIntent, name)
			}
			if !seen[def.Kind] {
				seen[def.Kind] = true
				matches = append(matches, match{def: def, pos: -1})
			}
		}
	} else {
		text := strings.ToLower(q.Text)
		for _, def := range r.registry.Definitions() {
			if pos, kw, ok := matchDefinition(def, text); ok {
				matches = append(matches, match{def: def, pos: pos, keyword: kw})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].pos != matches[j].pos {
				return matches[i].pos < matches[j].pos
			}
			return r.registry.order(matches[i].def.Kind) < r.registry.order(matches[j].def.Kind)
		})
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no intent matches %q", ErrUnrecognizedIntent, q.Text)
	}

	plan := &Plan{}
	placed := map[Kind]int{}
	var place func(def *Definition, m match, pulled bool)
	place = func(def *Definition, m match, pulled bool) {
		if _, ok := placed[def.Kind]; ok {
			return
		}
		layer := 0
		for _, dep := range def.DependsOn {
			depDef, _ := r.registry.Lookup(dep)
			place(depDef, match{}, true)
			if l := plan.Steps[placed[dep]].Layer + 1; l > layer {
				layer = l
			}
		}
		placed[def.Kind] = len(plan.Steps)
		plan.Steps = append(plan.Steps, Step{Def: def, Layer: layer, Matched: m.keyword, Pulled: pulled})
	}
	for _, m := range matches {
		place(m.def, m, false)
	}

	for _, s := range plan.Steps {
		if err := checkAssets(s.Def, len(q.Assets)); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func checkAssets(def *Definition, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: no assets given", ErrMissingAssets)
	}
	if n < def.Spec.MinAssets {
		return fmt.Errorf("%w: %s needs at least %d assets, got %d", ErrMissingAssets, def.Kind, def.Spec.MinAssets, n)
	}
	if def.Spec.MaxAssets > 0 && n > def.Spec.MaxAssets {
		return fmt.Errorf("%w: %s accepts at most %d assets, got %d", ErrMissingAssets, def.Kind, def.Spec.MaxAssets, n)
	}
	return nil
}

var wordPatterns patternCache

// matchDefinition reports the earliest keyword position of def in text.
// Definitions with triggers also need one trigger word.
func matchDefinition(def *Definition, text string) (int, string, bool) {
	pos, kw := earliest(def.Keywords, text)
	if pos < 0 {
		return -1, "", false
	}
	if len(def.Triggers) > 0 {
		if tpos, _ := earliest(def.Triggers, text); tpos < 0 {
			return -1, "", false
		}
	}
	return pos, kw, true
}

func earliest(words []string, text string) (int, string) {
	best, bestWord := -1, ""
	for _, w := range words {
		loc := wordPatterns.get(w).FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best, bestWord = loc[0], w
		}
	}
	return best, bestWord
}

// patternCache caches compiled word-prefix patterns.
type patternCache struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}

func (c *patternCache) get(word string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]*regexp.Regexp{}
	}
	re, ok := c.m[word]
	if !ok {
		re = regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(word)))
		c.m[word] = re
	}
	return re
}
