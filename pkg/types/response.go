package types

import "time"

// Band is the trust classification of an answer.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Rank orders bands from worst (0) to best (2).
func (b Band) Rank() int {
	switch b {
	case BandHigh:
		return 2
	case BandMedium:
		return 1
	default:
		return 0
	}
}

// Demote returns the band one step lower. Low stays low.
func (b Band) Demote() Band {
	switch b {
	case BandHigh:
		return BandMedium
	default:
		return BandLow
	}
}

// Worse returns the lower of two bands.
func Worse(a, b Band) Band {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// Escalation is the follow-up action attached to an answer.
type Escalation string

const (
	EscalationNone        Escalation = "none"
	EscalationAskFollowup Escalation = "ask_followup"
	EscalationHumanReview Escalation = "human_review"
)

// Gap severities.
const (
	SeverityCritical = "critical"
	SeveritySoft     = "soft"
)

// Gap categories.
const (
	GapAssetIdentity         = "asset_identity"
	GapTelemetryInterruption = "telemetry_interruption"
	GapInsufficientData      = "insufficient_data"
	GapAdapter               = "adapter"
	GapComputation           = "computation"
	GapModel                 = "model"
	GapKnowledge             = "knowledge"
	GapDependency            = "dependency"
	GapContradiction         = "contradiction"
)

// Data quality statuses.
const (
	QualityOK          = "ok"
	QualityPartial     = "partial"
	QualityEmpty       = "empty"
	QualityUnavailable = "unavailable"
)

// HypothesisPlausibleContributor is the only label cross-intent inferences may carry.
const HypothesisPlausibleContributor = "plausible_contributor"

// ConfidenceAssessment is the scored verdict for one response.
type ConfidenceAssessment struct {
	Band       Band       `json:"band"`
	Reasons    []string   `json:"reasons"`
	Escalation Escalation `json:"escalation"`
}

// DataQuery identifies what was asked of an adapter.
type DataQuery struct {
	AssetID     string   `json:"asset_id"`
	Kind        string   `json:"kind"`
	Signals     []string `json:"signals,omitempty"`
	Granularity string   `json:"granularity,omitempty"`
}

// DataQuality is the adapter-reported quality of one result.
type DataQuality struct {
	Status              string     `json:"status"`
	ExpectedRows        int        `json:"expected_rows"`
	MissingRows         int        `json:"missing_rows"`
	SignalsReturned     []string   `json:"signals_returned"`
	EarliestObservation *time.Time `json:"earliest_observation,omitempty"`
	LatestObservation   *time.Time `json:"latest_observation,omitempty"`
}

// DataUsed records one adapter request and what came back.
type DataUsed struct {
	Intent       string      `json:"intent"`
	SourceType   string      `json:"source_type"`
	SourceName   string      `json:"source_name"`
	Query        DataQuery   `json:"query"`
	TimeWindow   *TimeWindow `json:"time_window,omitempty"`
	RowCount     int         `json:"row_count"`
	QualityNotes string      `json:"quality_notes"`
	Quality      DataQuality `json:"quality"`
}

// Computation is a deterministic operation over recorded inputs.
type Computation struct {
	Intent         string         `json:"intent"`
	Name           string         `json:"name"`
	Inputs         []string       `json:"inputs"`
	Method         string         `json:"method"`
	Outputs        map[string]any `json:"outputs"`
	AssumptionRefs []string       `json:"assumption_refs"`
}

// ModelCall summarizes one model adapter invocation.
type ModelCall struct {
	Intent          string         `json:"intent"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Status          string         `json:"status"`
	InputSummary    map[string]any `json:"input_summary"`
	OutputSummary   map[string]any `json:"output_summary"`
	ModelConfidence *float64       `json:"model_confidence"`
	Limitations     []string       `json:"limitations"`
	Error           string         `json:"error,omitempty"`
}

// KBRule records a knowledge base artifact that was consulted.
type KBRule struct {
	Intent         string `json:"intent"`
	KBRef          string `json:"kb_ref"`
	Kind           string `json:"kind"`
	RuleSummary    string `json:"rule_summary"`
	ImpactOnAnswer string `json:"impact_on_answer"`
	SafetyRelevant bool   `json:"safety_relevant,omitempty"`
}

// Assumption is a resolved entry of the assumption registry.
type Assumption struct {
	Intent      string `json:"intent"`
	Ref         string `json:"ref"`
	Description string `json:"description"`
}

// Gap is acknowledged missing or unknowable context.
type Gap struct {
	Intent   string `json:"intent"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Note     string `json:"note"`
}

// AssumptionsAndGaps groups assumptions, gaps and the derived risk notes.
type AssumptionsAndGaps struct {
	Assumptions []Assumption `json:"assumptions"`
	Gaps        []Gap        `json:"gaps"`
	RiskNotes   string       `json:"risk_notes"`
}

// Attachments references auxiliary artifacts.
type Attachments struct {
	Charts []string `json:"charts"`
	Tables []string `json:"tables"`
	Links  []string `json:"links"`
}

// EvidenceBundle is the auditable record behind one answer.
type EvidenceBundle struct {
	EvidenceID         string             `json:"evidence_id"`
	GeneratedAt        time.Time          `json:"generated_at"`
	Question           string             `json:"question"`
	Intent             string             `json:"intent"`
	Role               string             `json:"role"`
	DataUsed           []DataUsed         `json:"data_used"`
	Computations       []Computation      `json:"computations"`
	ModelCalls         []ModelCall        `json:"model_calls"`
	KBRulesApplied     []KBRule           `json:"kb_rules_applied"`
	AssumptionsAndGaps AssumptionsAndGaps `json:"assumptions_and_gaps"`
	Attachments        Attachments        `json:"attachments"`
}

// Hypothesis is a labeled cross-intent inference.
type Hypothesis struct {
	Statement              string   `json:"statement"`
	Type                   string   `json:"type"`
	Confidence             Band     `json:"confidence"`
	SupportingComputations []string `json:"supporting_computations"`
	Limitations            []string `json:"limitations"`
}

// BrainResponse is the final artifact of one pipeline run.
type BrainResponse struct {
	Answer     *string              `json:"answer"`
	Confidence ConfidenceAssessment `json:"confidence"`
	Evidence   EvidenceBundle       `json:"evidence"`
	Data       map[string]any       `json:"data"`
}
