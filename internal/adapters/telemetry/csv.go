package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
)

// File names of a dataset directory.
const (
	AssetsFile    = "assets.json"
	TelemetryFile = "telemetry.csv"
	EventsFile    = "events.csv"
)

const missingFlag = "missing"

var (
	telemetryHeader = []string{"timestamp", "asset_id", "soc", "soh", "temperature", "power", "status", "data_quality_flag"}
	eventsHeader    = []string{"event_id", "asset_id", "event_type", "start_ts", "end_ts", "severity", "notes"}
	numericSignals  = []string{"soc", "soh", "temperature", "power"}
)

type assetsFile struct {
	Site   AssetDoc   `json:"site"`
	Assets []AssetDoc `json:"assets"`
	Notes  struct {
		CadenceMinutes int    `json:"cadence_minutes"`
		StartTS        string `json:"start_ts,omitempty"`
		Days           int    `json:"days,omitempty"`
		Seed           int64  `json:"seed,omitempty"`
	} `json:"notes"`
}

// LoadDir reads assets.json, telemetry.csv and events.csv from dir.
func LoadDir(dir string) (*Dataset, error) {
	raw, err := os.ReadFile(filepath.Join(dir, AssetsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", AssetsFile, err)
	}
	var doc assetsFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", AssetsFile, err)
	}

	cadence := 15 * time.Minute
	if doc.Notes.CadenceMinutes > 0 {
		cadence = time.Duration(doc.Notes.CadenceMinutes) * time.Minute
	}
	ds := &Dataset{
		Site:     doc.Site,
		Assets:   doc.Assets,
		Cadence:  cadence,
		Readings: map[string][]adapters.Reading{},
	}

	if err := readCSV(filepath.Join(dir, TelemetryFile), func(rec map[string]string) error {
		rd, err := parseReading(rec)
		if err != nil {
			return err
		}
		id := rec["asset_id"]
		ds.Readings[id] = append(ds.Readings[id], rd)
		return nil
	}); err != nil {
		return nil, err
	}
	for id := range ds.Readings {
		rows := ds.Readings[id]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	}

	if err := readCSV(filepath.Join(dir, EventsFile), func(rec map[string]string) error {
		ev, err := parseEvent(rec)
		if err != nil {
			return err
		}
		ds.Events = append(ds.Events, ev)
		return nil
	}); err != nil {
		return nil, err
	}
	return ds, nil
}

// WriteDir writes ds to dir in the layout LoadDir reads.
func WriteDir(dir string, ds *Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var doc assetsFile
	doc.Site = ds.Site
	doc.Assets = ds.Assets
	doc.Notes.CadenceMinutes = int(ds.Cadence.Minutes())
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", AssetsFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, AssetsFile), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", AssetsFile, err)
	}

	ids := make([]string, 0, len(ds.Readings))
	for id := range ds.Readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows [][]string
	for _, id := range ids {
		for _, rd := range ds.Readings[id] {
			rows = append(rows, formatReading(id, rd))
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	if err := writeCSV(filepath.Join(dir, TelemetryFile), telemetryHeader, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, e := range ds.Events {
		rows = append(rows, []string{
			e.ID, e.AssetID, e.Type,
			e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339),
			e.Severity, e.Notes,
		})
	}
	return writeCSV(filepath.Join(dir, EventsFile), eventsHeader, rows)
}

func readCSV(path string, fn func(map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", filepath.Base(path), err)
	}
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
	}
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func parseReading(rec map[string]string) (adapters.Reading, error) {
	ts, err := parseTimestamp(rec["timestamp"])
	if err != nil {
		return adapters.Reading{}, err
	}
	rd := adapters.Reading{Timestamp: ts}
	if rec["data_quality_flag"] == missingFlag {
		rd.Missing = true
		return rd, nil
	}

	rd.Values = make(map[string]float64, len(numericSignals))
	for _, sig := range numericSignals {
		raw := rec[sig]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		rd.Values[sig] = v
	}
	rd.Status = rec["status"]
	return rd, nil
}

func formatReading(assetID string, rd adapters.Reading) []string {
	ts := rd.Timestamp.UTC().Format(time.RFC3339)
	if rd.Missing {
		return []string{ts, assetID, "", "", "", "", "", missingFlag}
	}
	f := func(sig string, prec int) string {
		v, ok := rd.Values[sig]
		if !ok {
			return ""
		}
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
	return []string{ts, assetID, f("soc", 2), f("soh", 4), f("temperature", 2), f("power", 2), rd.Status, "ok"}
}

func parseEvent(rec map[string]string) (adapters.Event, error) {
	start, err := parseTimestamp(rec["start_ts"])
	if err != nil {
		return adapters.Event{}, err
	}
	end, err := parseTimestamp(rec["end_ts"])
	if err != nil {
		return adapters.Event{}, err
	}
	return adapters.Event{
		ID:       rec["event_id"],
		AssetID:  rec["asset_id"],
		Type:     rec["event_type"],
		Start:    start,
		End:      end,
		Severity: rec["severity"],
		Notes:    rec["notes"],
	}, nil
}
