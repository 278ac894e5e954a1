package confidence

// Package confidence grades an evidence bundle.
//
// Scoring is pure: the same bundle and requirements always yield the same
// assessment. Every intent starts at high and rules only ever demote, so
// adding a failure can never raise the band. The overall band is the worst
// intent band, and every rule that fires leaves a named reason.

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Config holds the scoring thresholds.
type Config struct {
	// MinCoverage is the signal and row coverage below which an intent is low.
	MinCoverage float64
	// StaleAfter is the largest tolerated distance between the window end
	// and the latest observation.
	StaleAfter time.Duration
	// ModelMinConfidence is the lowest model self-confidence accepted.
	ModelMinConfidence float64
	// MaxGapStreak is the longest run of missing rows still read as
	// scattered loss. Longer runs are reported as clustered.
	MaxGapStreak int
}

// CompGapProfile is the computation that carries a series' missing-row
// streaks.
const CompGapProfile = "telemetry_gap_profile"

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinCoverage:        0.80,
		StaleAfter:         6 * time.Hour,
		ModelMinConfidence: 0.5,
		MaxGapStreak:       8,
	}
}

// Requirement is what one intent needed, as the scorer sees it.
type Requirement struct {
	Intent string
	// Signals are the intent's critical signals.
	Signals        []string
	MinHorizon     time.Duration
	KBRefs         []string
	CriticalModels []string
	Window         types.TimeWindow
}

// Scorer grades bundles.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer. Zero fields fall back to defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = def.MinCoverage
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ModelMinConfidence <= 0 {
		cfg.ModelMinConfidence = def.ModelMinConfidence
	}
	if cfg.MaxGapStreak <= 0 {
		cfg.MaxGapStreak = def.MaxGapStreak
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective thresholds.
func (s *Scorer) Config() Config { return s.cfg }

// Score grades bundle against the requirements of every intent that ran.
func (s *Scorer) Score(bundle types.EvidenceBundle, reqs []Requirement) types.ConfidenceAssessment {
	overall := types.BandHigh
	var reasons []string

	if n := countCritical(bundle.AssumptionsAndGaps.Gaps, ""); n > 0 {
		overall = types.BandLow
		reasons = append(reasons, fmt.Sprintf("question: %d critical gap(s)", n))
	}
	for _, req := range reqs {
		band, why := s.scoreIntent(bundle, req)
		overall = types.Worse(overall, band)
		if len(why) == 0 {
			reasons = append(reasons, req.Intent+": all checks passed")
			continue
		}
		reasons = append(reasons, why...)
	}
	if len(reqs) == 0 && overall == types.BandHigh {
		// Nothing ran, nothing supports an answer.
		overall = types.BandLow
		reasons = append(reasons, "question: no intent ran")
	}

	escalation, why := escalate(overall, bundle)
	reasons = append(reasons, fmt.Sprintf("escalation: %s (%s)", escalation, why))
	return types.ConfidenceAssessment{Band: overall, Reasons: reasons, Escalation: escalation}
}

func (s *Scorer) scoreIntent(bundle types.EvidenceBundle, req Requirement) (types.Band, []string) {
	band := types.BandHigh
	var reasons []string
	fire := func(b types.Band, format string, args ...any) {
		band = b
		reasons = append(reasons, req.Intent+": "+fmt.Sprintf(format, args...))
	}

	var series []types.DataUsed
	for _, d := range bundle.DataUsed {
		if d.Intent == req.Intent && d.Query.Kind == "timeseries" {
			series = append(series, d)
		}
	}
	var gaps []types.Gap
	for _, g := range bundle.AssumptionsAndGaps.Gaps {
		if g.Intent == req.Intent {
			gaps = append(gaps, g)
		}
	}

	// Coverage.
	if len(series) > 0 {
		sig, rows := coverage(series, req.Signals)
		if c := min(sig, rows); c < s.cfg.MinCoverage {
			fire(types.BandLow, "coverage %.2f below %.2f (signals %.2f, rows %.2f)", c, s.cfg.MinCoverage, sig, rows)
		}
	}

	// Continuity, demoting at most once.
	var interruption string
	for _, g := range gaps {
		if g.Category == types.GapTelemetryInterruption && g.Severity == types.SeveritySoft {
			interruption = g.Note
			break
		}
	}
	streak, streakAsset := longestGapStreak(bundle.Computations, req.Intent)
	switch {
	case streak > s.cfg.MaxGapStreak:
		fire(band.Demote(), "missing telemetry is clustered: %d consecutive rows on %s exceed %d", streak, streakAsset, s.cfg.MaxGapStreak)
	case interruption != "":
		fire(band.Demote(), "telemetry interruption (%s)", interruption)
	}

	// Freshness.
	if latest := latestObservation(series); latest != nil && !req.Window.End.IsZero() {
		if lag := req.Window.End.Sub(*latest); lag > s.cfg.StaleAfter {
			fire(band.Demote(), "latest observation %s before window end exceeds %s", lag, s.cfg.StaleAfter)
		}
	}

	// Model validity, demoting at most once.
	if why := s.modelProblem(bundle.ModelCalls, req); why != "" {
		fire(band.Demote(), "%s", why)
	}

	// KB coverage.
	found := map[string]bool{}
	for _, r := range bundle.KBRulesApplied {
		if r.Intent == req.Intent {
			found[r.KBRef] = true
		}
	}
	var missing []string
	for _, ref := range req.KBRefs {
		if !found[ref] {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		fire(band.Demote(), "knowledge base artifact(s) not found: %s", strings.Join(missing, ", "))
	}

	// Horizon. Intents that only read upstream results are held to the window.
	if req.MinHorizon > 0 && band.Rank() > types.BandMedium.Rank() {
		if len(series) == 0 {
			if span := req.Window.Duration(); span < req.MinHorizon {
				fire(types.BandMedium, "window %s shorter than horizon %s", span, req.MinHorizon)
			}
		} else if span := dataSpan(series); span < req.MinHorizon {
			fire(types.BandMedium, "data span %s shorter than horizon %s", span, req.MinHorizon)
		}
	}

	// Critical gaps and contradictions.
	var contradictions int
	for _, g := range gaps {
		if g.Category == types.GapContradiction {
			contradictions++
		}
	}
	if contradictions > 0 {
		fire(types.BandLow, "%d contradiction(s) between sources", contradictions)
	} else if n := countCritical(gaps, req.Intent); n > 0 {
		fire(types.BandLow, "%d critical gap(s)", n)
	}
	return band, reasons
}

func (s *Scorer) modelProblem(calls []types.ModelCall, req Requirement) string {
	ok := map[string]bool{}
	var problems []string
	for _, m := range calls {
		if m.Intent != req.Intent {
			continue
		}
		switch {
		case m.Status != "ok":
			problems = append(problems, fmt.Sprintf("model %s %s", m.Name, m.Status))
		case m.ModelConfidence != nil && *m.ModelConfidence < s.cfg.ModelMinConfidence:
			problems = append(problems, fmt.Sprintf("model %s confidence %.2f below %.2f", m.Name, *m.ModelConfidence, s.cfg.ModelMinConfidence))
		default:
			ok[m.Name] = true
		}
	}
	for _, name := range req.CriticalModels {
		if !ok[name] {
			problems = append(problems, fmt.Sprintf("critical model %s has no valid output", name))
		}
	}
	return strings.Join(problems, "; ")
}

// coverage returns the share of critical signals returned and the share of
// expected rows present, across every time series of the intent.
func coverage(series []types.DataUsed, critical []string) (float64, float64) {
	sig, rows := 1.0, 1.0
	if len(critical) > 0 {
		var want, got int
		for _, d := range series {
			returned := map[string]bool{}
			for _, s := range d.Quality.SignalsReturned {
				returned[s] = true
			}
			for _, s := range critical {
				want++
				if returned[s] {
					got++
				}
			}
		}
		sig = float64(got) / float64(want)
	}

	var expected, present int
	for _, d := range series {
		expected += d.Quality.ExpectedRows
		present += d.RowCount - d.Quality.MissingRows
	}
	if expected > 0 {
		rows = min(float64(present)/float64(expected), 1)
	}
	return sig, rows
}

// dataSpan is the time between the first and last observation across the
// series. Series without observations span nothing.
func dataSpan(series []types.DataUsed) time.Duration {
	var first, last *time.Time
	for _, d := range series {
		q := d.Quality
		if q.EarliestObservation != nil && (first == nil || q.EarliestObservation.Before(*first)) {
			first = q.EarliestObservation
		}
		if q.LatestObservation != nil && (last == nil || q.LatestObservation.After(*last)) {
			last = q.LatestObservation
		}
	}
	if first == nil || last == nil || last.Before(*first) {
		return 0
	}
	return last.Sub(*first)
}

// longestGapStreak returns the longest missing-row run profiled for intent
// and the asset it belongs to.
func longestGapStreak(computations []types.Computation, intent string) (int, string) {
	var longest int
	var asset string
	for _, c := range computations {
		if c.Intent != intent || c.Name != CompGapProfile {
			continue
		}
		var n int
		switch v := c.Outputs["longest_streak_rows"].(type) {
		case int:
			n = v
		case float64:
			n = int(v)
		}
		if n > longest {
			longest = n
			asset, _ = c.Outputs["asset_id"].(string)
		}
	}
	return longest, asset
}

func latestObservation(series []types.DataUsed) *time.Time {
	var latest *time.Time
	for _, d := range series {
		if t := d.Quality.LatestObservation; t != nil && (latest == nil || t.After(*latest)) {
			latest = t
		}
	}
	return latest
}

func countCritical(gaps []types.Gap, intent string) int {
	var n int
	for _, g := range gaps {
		if g.Intent == intent && g.Severity == types.SeverityCritical {
			n++
		}
	}
	return n
}

func escalate(band types.Band, bundle types.EvidenceBundle) (types.Escalation, string) {
	switch band {
	case types.BandLow:
		for _, g := range bundle.AssumptionsAndGaps.Gaps {
			if g.Category == types.GapContradiction {
				return types.EscalationHumanReview, "contradiction between sources"
			}
			if g.Category == types.GapAssetIdentity {
				return types.EscalationHumanReview, "unresolved asset identity"
			}
		}
		return types.EscalationAskFollowup, "low confidence"
	case types.BandMedium:
		var refs []string
		for _, r := range bundle.KBRulesApplied {
			if r.SafetyRelevant {
				refs = append(refs, r.KBRef)
			}
		}
		if len(refs) > 0 {
			sort.Strings(refs)
			return types.EscalationAskFollowup, "safety-relevant knowledge " + strings.Join(dedupe(refs), ", ")
		}
		return types.EscalationNone, "medium confidence without safety-relevant knowledge"
	default:
		return types.EscalationNone, "high confidence"
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
