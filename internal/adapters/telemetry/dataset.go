package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// ErrUnsupportedSignal is returned for signals the dataset does not carry.
var ErrUnsupportedSignal = errors.New("unsupported signal")

// AllowedSignals lists the signals a dataset can serve.
var AllowedSignals = []string{"power", "soc", "soh", "status", "temperature"}

// AssetDoc is one entry of assets.json.
type AssetDoc struct {
	AssetID            string  `json:"asset_id"`
	AssetType          string  `json:"asset_type"`
	ParentAssetID      string  `json:"parent_asset_id,omitempty"`
	Chemistry          string  `json:"chemistry,omitempty"`
	InstallDate        string  `json:"install_date,omitempty"`
	NominalCapacityKWh float64 `json:"nominal_capacity_kwh,omitempty"`
}

// Dataset is an in-memory telemetry dataset: asset registry, per-asset
// readings in time order and an event log.
type Dataset struct {
	Site     AssetDoc
	Assets   []AssetDoc
	Cadence  time.Duration
	Readings map[string][]adapters.Reading
	Events   []adapters.Event
}

func (d *Dataset) asset(id string) (AssetDoc, bool) {
	if id != "" && id == d.Site.AssetID {
		return d.Site, true
	}
	for _, a := range d.Assets {
		if a.AssetID == id {
			return a, true
		}
	}
	return AssetDoc{}, false
}

// Adapter serves a Dataset through the telemetry port.
type Adapter struct {
	name string
	ds   *Dataset
}

var _ adapters.Telemetry = (*Adapter)(nil)

// NewAdapter wraps ds. name is reported as the evidence source name.
func NewAdapter(name string, ds *Dataset) *Adapter {
	return &Adapter{name: name, ds: ds}
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) granularity() string {
	if a.ds.Cadence <= 0 {
		return ""
	}
	return fmt.Sprintf("%dm", int(a.ds.Cadence.Minutes()))
}

// GetTimeseries returns the readings of assetID inside window for signals.
func (a *Adapter) GetTimeseries(ctx context.Context, assetID string, signals []string, window types.TimeWindow) (*adapters.DataResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bad := unsupported(signals); len(bad) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSignal, strings.Join(bad, ","))
	}

	req := adapters.DataRequest{Kind: adapters.KindTimeseries, AssetID: assetID, Signals: signals, Window: window}
	if _, ok := a.ds.asset(assetID); !ok {
		res := adapters.NewEmptyResult(req, a.name, fmt.Sprintf("unknown asset_id %s", assetID))
		res.Granularity = a.granularity()
		return res, nil
	}

	res := &adapters.DataResult{
		Request:     req,
		Source:      a.name,
		SourceType:  adapters.SourceTelemetry,
		Granularity: a.granularity(),
	}
	for _, rd := range a.ds.Readings[assetID] {
		if !window.Contains(rd.Timestamp) {
			continue
		}
		res.Readings = append(res.Readings, project(rd, signals))
	}
	adapters.SummarizeReadings(res, a.ds.Cadence)
	return res, nil
}

// GetEvents returns events of assetID overlapping window, sorted by start.
func (a *Adapter) GetEvents(ctx context.Context, assetID string, window types.TimeWindow) (*adapters.DataResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := adapters.DataRequest{Kind: adapters.KindEvents, AssetID: assetID, Window: window}
	if _, ok := a.ds.asset(assetID); !ok {
		return adapters.NewEmptyResult(req, a.name, fmt.Sprintf("unknown asset_id %s", assetID)), nil
	}

	var events []adapters.Event
	for _, e := range a.ds.Events {
		if e.AssetID != assetID {
			continue
		}
		if !e.End.After(window.Start) || !e.Start.Before(window.End) {
			continue
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	note := fmt.Sprintf("%d events in window", len(events))
	if len(events) == 0 {
		note = "no events in window"
	}
	return &adapters.DataResult{
		Request:    req,
		Source:     a.name,
		SourceType: adapters.SourceTelemetry,
		Events:     events,
		Quality: adapters.Quality{
			Status:          types.QualityOK,
			RowCount:        len(events),
			SignalsReturned: []string{},
			Notes:           note,
		},
	}, nil
}

// GetAssetContext returns the registry entry of assetID.
func (a *Adapter) GetAssetContext(ctx context.Context, assetID string) (*adapters.DataResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := adapters.DataRequest{Kind: adapters.KindAssetContext, AssetID: assetID}
	doc, ok := a.ds.asset(assetID)
	if !ok {
		return adapters.NewEmptyResult(req, a.name, fmt.Sprintf("asset_id %s not found in asset registry", assetID)), nil
	}

	site := doc.ParentAssetID
	if doc.AssetID == a.ds.Site.AssetID {
		site = doc.AssetID
	}
	return &adapters.DataResult{
		Request:    req,
		Source:     a.name,
		SourceType: adapters.SourceTelemetry,
		Asset: &adapters.AssetContext{
			AssetID:            doc.AssetID,
			SiteID:             site,
			Chemistry:          doc.Chemistry,
			InstallDate:        doc.InstallDate,
			NominalCapacityKWh: doc.NominalCapacityKWh,
		},
		Quality: adapters.Quality{
			Status:          types.QualityOK,
			RowCount:        1,
			SignalsReturned: []string{},
			Notes:           fmt.Sprintf("%s %s", doc.AssetType, doc.AssetID),
		},
	}, nil
}

func unsupported(signals []string) []string {
	var bad []string
	for _, s := range signals {
		if !contains(AllowedSignals, s) {
			bad = append(bad, s)
		}
	}
	return bad
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// project keeps only the requested signals of rd.
func project(rd adapters.Reading, signals []string) adapters.Reading {
	out := adapters.Reading{Timestamp: rd.Timestamp, Missing: rd.Missing}
	if rd.Missing {
		return out
	}
	out.Values = make(map[string]float64, len(signals))
	for _, s := range signals {
		if s == "status" {
			out.Status = rd.Status
			continue
		}
		if v, ok := rd.Values[s]; ok {
			out.Values[s] = v
		}
	}
	return out
}
