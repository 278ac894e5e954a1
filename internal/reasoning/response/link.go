package response

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// causalPattern matches wording that asserts causation. Cross-intent links
// are associations and may only be phrased as plausible contributors.
var causalPattern = regexp.MustCompile(`(?i)\b(cause[sd]?|because|due to|led to|result(ed|s)? in)\b`)

// refPattern parses computation references: "name", "name[asset]",
// "intent/name" or "intent/name[asset]".
var refPattern = regexp.MustCompile(`^(?:([a-z0-9_]+)/)?([a-z0-9_]+)(?:\[([^\]]+)\])?$`)

// CausalWording returns the first causal phrase in text, or "".
func CausalWording(text string) string {
	return causalPattern.FindString(text)
}

// Linked is the checked narrative of one question.
type Linked struct {
	// Fragments keep plan order. Sentences with causal wording are removed.
	Fragments  []*intent.Fragment
	Hypotheses []types.Hypothesis
	// Rejections describe every removed sentence or hypothesis.
	Rejections []string
}

// Link checks fragments against the recorded computations. A hypothesis is
// kept only if it is a plausible contributor, avoids causal wording, carries
// limitations and cites computations that exist. A dropped hypothesis also
// leaves the answer text.
func Link(fragments []*intent.Fragment, computations []types.Computation) Linked {
	var out Linked
	for _, f := range fragments {
		if f == nil {
			continue
		}
		kept := *f
		kept.Hypotheses = nil
		answer := f.Answer
		for _, h := range f.Hypotheses {
			if why := checkHypothesis(f.Intent, h, computations); why != "" {
				out.Rejections = append(out.Rejections, fmt.Sprintf("%s: hypothesis dropped, %s", f.Intent, why))
				answer = removeSentence(answer, h.Statement)
				continue
			}
			kept.Hypotheses = append(kept.Hypotheses, h)
			out.Hypotheses = append(out.Hypotheses, h)
		}
		kept.Answer = stripCausal(f.Intent, answer, &out.Rejections)
		out.Fragments = append(out.Fragments, &kept)
	}
	return out
}

func removeSentence(text, sentence string) string {
	if sentence == "" || !strings.Contains(text, sentence) {
		return text
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(text, sentence, "")), " ")
}

func checkHypothesis(kind intent.Kind, h types.Hypothesis, computations []types.Computation) string {
	if h.Type != types.HypothesisPlausibleContributor {
		return fmt.Sprintf("type %q is not %s", h.Type, types.HypothesisPlausibleContributor)
	}
	if w := CausalWording(h.Statement); w != "" {
		return fmt.Sprintf("causal wording %q", w)
	}
	if len(h.Limitations) == 0 {
		return "no limitations stated"
	}
	if len(h.SupportingComputations) == 0 {
		return "no supporting computations"
	}
	for _, ref := range h.SupportingComputations {
		if !resolves(kind, ref, computations) {
			return fmt.Sprintf("supporting computation %s not recorded", ref)
		}
	}
	return ""
}

func resolves(kind intent.Kind, ref string, computations []types.Computation) bool {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil {
		return false
	}
	owner, name, asset := m[1], m[2], m[3]
	if owner == "" {
		owner = string(kind)
	}
	for _, c := range computations {
		if c.Intent != owner || c.Name != name {
			continue
		}
		if asset == "" || c.Outputs["asset_id"] == asset {
			return true
		}
	}
	return false
}

func stripCausal(kind intent.Kind, text string, rejections *[]string) string {
	if CausalWording(text) == "" {
		return text
	}
	var kept []string
	for _, s := range sentences(text) {
		if w := CausalWording(s); w != "" {
			*rejections = append(*rejections, fmt.Sprintf("%s: sentence dropped, causal wording %q", kind, w))
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}

// sentences splits text after ". " so decimals stay intact.
func sentences(text string) []string {
	var out []string
	for _, s := range strings.SplitAfter(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
