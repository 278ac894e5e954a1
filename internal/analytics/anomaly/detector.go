package anomaly

// Package anomaly provides spike detection using classical statistics.
//
// Responsibilities:
//   - Flag temperature excursions above a percentile baseline
//   - Stay interpretable: every flagged point is explained by p95 + margin
//   - Stay deterministic and reproducible for evidence replay
//
// Detection Algorithm:
//
//   Percentile threshold
//      - threshold = p95(values) + margin
//      - a spike is any value strictly above the threshold
//      - margin comes from the knowledge base (temperature_spike_margin_c)

import (
	"fmt"
	"sort"

	"github.com/kubilitics/kubilitics-brain/internal/analytics"
)

// Config tunes the detector.
type Config struct {
	// MinPoints is the smallest baseline the detector trusts.
	MinPoints int
	// Percentile of the baseline, in [0,1].
	Percentile float64
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{MinPoints: 40, Percentile: 0.95}
}

// Scan is the result of one spike scan.
type Scan struct {
	P50       float64
	P95       float64
	Threshold float64
	Spikes    []analytics.Point
}

// SpikeCount returns the number of flagged points.
func (s *Scan) SpikeCount() int { return len(s.Spikes) }

// Detector flags points above a percentile threshold.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = DefaultConfig().MinPoints
	}
	if cfg.Percentile <= 0 || cfg.Percentile > 1 {
		cfg.Percentile = DefaultConfig().Percentile
	}
	return &Detector{cfg: cfg}
}

// ScanSpikes flags every point above percentile + margin. Points keep their
// input order.
func (d *Detector) ScanSpikes(points []analytics.Point, margin float64) (*Scan, error) {
	if len(points) < d.cfg.MinPoints {
		return nil, fmt.Errorf("spike scan needs %d points, got %d: %w",
			d.cfg.MinPoints, len(points), analytics.ErrInsufficientPoints)
	}

	sorted := analytics.Values(points)
	sort.Float64s(sorted)

	scan := &Scan{
		P50: analytics.Percentile(sorted, 0.50),
		P95: analytics.Percentile(sorted, d.cfg.Percentile),
	}
	scan.Threshold = scan.P95 + margin

	for _, p := range points {
		if p.Value > scan.Threshold {
			scan.Spikes = append(scan.Spikes, p)
		}
	}
	return scan, nil
}
