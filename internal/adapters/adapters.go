package adapters

// Package adapters declares the ports the reasoning engine talks to.
//
// The engine never reaches data, models or knowledge directly; it goes through
// the three ports below so that every provider can be replaced or faked:
//
//   - Telemetry: time series, events and asset context per asset
//   - ModelRunner: named models returning outputs plus their own confidence
//   - KnowledgeBase: definitions, playbooks, thresholds and templates
//
// Contract shared by all telemetry implementations: "no data" is never an
// error. An unknown asset or an empty window yields a DataResult whose Quality
// says so. Errors are reserved for infrastructure failures.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// Request kinds.
const (
	KindAssetContext = "asset_context"
	KindTimeseries   = "timeseries"
	KindEvents       = "events"
)

// SourceTelemetry is the source type of every telemetry port result.
const SourceTelemetry = "telemetry"

var (
	// ErrAdapterUnavailable means the provider could not be reached.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrAdapterTimeout means the call exceeded its deadline.
	ErrAdapterTimeout = errors.New("adapter timeout")
	// ErrTransient marks a failure worth retrying.
	ErrTransient = errors.New("transient adapter failure")
)

// IsTransient reports whether err is a network-class failure eligible for retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrAdapterTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// DataRequest is one concrete request issued to the telemetry port.
type DataRequest struct {
	Kind    string
	AssetID string
	Signals []string
	Window  types.TimeWindow
}

// Key identifies equivalent requests.
func (r DataRequest) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", r.Kind, r.AssetID, strings.Join(r.Signals, ","),
		r.Window.Start.UnixNano(), r.Window.End.UnixNano())
}

// Reading is one telemetry row. Missing rows carry no values.
type Reading struct {
	Timestamp time.Time
	Values    map[string]float64
	Status    string
	Missing   bool
}

// Event is an operational event logged against an asset.
type Event struct {
	ID       string
	AssetID  string
	Type     string
	Start    time.Time
	End      time.Time
	Severity string
	Notes    string
}

// AssetContext is the static description of an asset.
type AssetContext struct {
	AssetID            string
	SiteID             string
	Chemistry          string
	InstallDate        string
	NominalCapacityKWh float64
}

// Quality is the provider-reported quality of a result.
type Quality struct {
	Status          string
	RowCount        int
	ExpectedRows    int
	MissingRows     int
	SignalsReturned []string
	Earliest        *time.Time
	Latest          *time.Time
	Notes           string
}

// DataResult is the immutable payload returned for one DataRequest.
type DataResult struct {
	Request     DataRequest
	Source      string
	SourceType  string
	Granularity string
	Readings    []Reading
	Events      []Event
	Asset       *AssetContext
	Quality     Quality
}

// Empty reports whether the result carries no usable content.
func (r *DataResult) Empty() bool {
	return r == nil || r.Quality.Status == types.QualityEmpty || r.Quality.Status == types.QualityUnavailable
}

// Series returns the non-missing values of signal in time order.
func (r *DataResult) Series(signal string) []analytics.Point {
	if r == nil {
		return nil
	}
	var out []analytics.Point
	for _, rd := range r.Readings {
		if rd.Missing {
			continue
		}
		if v, ok := rd.Values[signal]; ok {
			out = append(out, analytics.Point{Timestamp: rd.Timestamp, Value: v})
		}
	}
	return out
}

// MissingMask returns one flag per reading, true where the row is missing.
func (r *DataResult) MissingMask() []bool {
	if r == nil {
		return nil
	}
	out := make([]bool, len(r.Readings))
	for i, rd := range r.Readings {
		out[i] = rd.Missing
	}
	return out
}

// NewEmptyResult returns an explicit empty result for req.
func NewEmptyResult(req DataRequest, source, note string) *DataResult {
	return &DataResult{
		Request:    req,
		Source:     source,
		SourceType: SourceTelemetry,
		Quality: Quality{
			Status:          types.QualityEmpty,
			SignalsReturned: []string{},
			Notes:           note,
		},
	}
}

// SummarizeReadings fills Quality for a time series result from its readings.
func SummarizeReadings(res *DataResult, cadence time.Duration) {
	q := Quality{RowCount: len(res.Readings), SignalsReturned: []string{}}
	if cadence > 0 {
		q.ExpectedRows = int(res.Request.Window.Duration() / cadence)
	}

	returned := map[string]bool{}
	for _, rd := range res.Readings {
		if rd.Missing {
			q.MissingRows++
			continue
		}
		for sig := range rd.Values {
			returned[sig] = true
		}
		if rd.Status != "" {
			returned["status"] = true
		}
		ts := rd.Timestamp
		if q.Earliest == nil || ts.Before(*q.Earliest) {
			q.Earliest = &ts
		}
		if q.Latest == nil || ts.After(*q.Latest) {
			q.Latest = &ts
		}
	}
	for _, sig := range res.Request.Signals {
		if returned[sig] {
			q.SignalsReturned = append(q.SignalsReturned, sig)
		}
	}
	sort.Strings(q.SignalsReturned)

	switch {
	case q.RowCount == 0 || q.RowCount == q.MissingRows:
		q.Status = types.QualityEmpty
		q.Notes = "no rows in window"
	case q.MissingRows > 0 || len(q.SignalsReturned) < len(res.Request.Signals) || q.RowCount < q.ExpectedRows:
		q.Status = types.QualityPartial
		q.Notes = fmt.Sprintf("%d missing rows", q.MissingRows)
	default:
		q.Status = types.QualityOK
		q.Notes = "no missing rows"
	}
	res.Quality = q
}

// Telemetry is the telemetry adapter port.
type Telemetry interface {
	// Name identifies the provider in evidence records.
	Name() string
	GetTimeseries(ctx context.Context, assetID string, signals []string, window types.TimeWindow) (*DataResult, error)
	GetEvents(ctx context.Context, assetID string, window types.TimeWindow) (*DataResult, error)
	GetAssetContext(ctx context.Context, assetID string) (*DataResult, error)
}

// ModelInputs are the inputs of one model invocation.
type ModelInputs struct {
	AssetID string
	Series  []analytics.Point
	Params  map[string]float64
}

// ModelOutput is a successful model invocation.
type ModelOutput struct {
	Name        string
	Version     string
	Outputs     map[string]float64
	Confidence  float64
	Limitations []string
}

// ModelFailure is the typed failure of a model invocation. A failed model never
// yields a numeric output.
type ModelFailure struct {
	Model  string
	Reason string
	Err    error
}

func (f *ModelFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("model %s failed: %s: %v", f.Model, f.Reason, f.Err)
	}
	return fmt.Sprintf("model %s failed: %s", f.Model, f.Reason)
}

func (f *ModelFailure) Unwrap() error { return f.Err }

// ModelRunner is the model adapter port.
type ModelRunner interface {
	RunModel(ctx context.Context, name string, inputs ModelInputs) (*ModelOutput, error)
}

// Knowledge base artifact kinds.
const (
	ArtifactDefinition = "definition"
	ArtifactPlaybook   = "playbook"
	ArtifactThreshold  = "threshold"
	ArtifactTemplate   = "template"
)

// Artifact is one knowledge base entry.
type Artifact struct {
	Ref            string   `yaml:"ref" json:"ref"`
	Kind           string   `yaml:"kind" json:"kind"`
	Summary        string   `yaml:"summary" json:"summary"`
	Value          *float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Unit           string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	SafetyRelevant bool     `yaml:"safety_relevant,omitempty" json:"safety_relevant,omitempty"`
	Body           string   `yaml:"body,omitempty" json:"body,omitempty"`
}

// KnowledgeBase is the read-only knowledge base port. Absence is a valid
// answer, reported through the boolean.
type KnowledgeBase interface {
	Definition(ctx context.Context, term string) (Artifact, bool)
	Playbook(ctx context.Context, name string) (Artifact, bool)
	Threshold(ctx context.Context, name string) (Artifact, bool)
	Template(ctx context.Context, name string) (Artifact, bool)
}
