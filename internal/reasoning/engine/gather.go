package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/analytics"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/confidence"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/evidence"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// CompGapProfile profiles the missing rows of one time series.
const CompGapProfile = confidence.CompGapProfile

// fetched is the memoized outcome of one request.
type fetched struct {
	res *adapters.DataResult
	err error
}

// fetcher issues telemetry requests for one question. Equivalent requests
// from different intents share one call; results are immutable.
type fetcher struct {
	tel   adapters.Telemetry
	group singleflight.Group

	mu   sync.Mutex
	memo map[string]fetched
}

func newFetcher(tel adapters.Telemetry) *fetcher {
	return &fetcher{tel: tel, memo: map[string]fetched{}}
}

func (f *fetcher) fetch(ctx context.Context, req adapters.DataRequest) (*adapters.DataResult, error) {
	key := req.Key()
	f.mu.Lock()
	if hit, ok := f.memo[key]; ok {
		f.mu.Unlock()
		return hit.res, hit.err
	}
	f.mu.Unlock()

	v, _, _ := f.group.Do(key, func() (any, error) {
		f.mu.Lock()
		hit, ok := f.memo[key]
		f.mu.Unlock()
		if ok {
			return hit, nil
		}
		var out fetched
		switch req.Kind {
		case adapters.KindAssetContext:
			out.res, out.err = f.tel.GetAssetContext(ctx, req.AssetID)
		case adapters.KindTimeseries:
			out.res, out.err = f.tel.GetTimeseries(ctx, req.AssetID, req.Signals, req.Window)
		case adapters.KindEvents:
			out.res, out.err = f.tel.GetEvents(ctx, req.AssetID, req.Window)
		default:
			out.err = fmt.Errorf("unknown request kind %q", req.Kind)
		}
		f.mu.Lock()
		f.memo[key] = out
		f.mu.Unlock()
		return out, nil
	})
	out := v.(fetched)
	return out.res, out.err
}

// fetchAll runs reqs with at most limit in flight and returns the results in
// request order.
func (f *fetcher) fetchAll(ctx context.Context, reqs []adapters.DataRequest, limit int) []fetched {
	out := make([]fetched, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			out[i].res, out[i].err = f.fetch(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// requests expands a spec into concrete requests: asset contexts first, then
// per asset a time series and, when needed, events.
func requests(spec intent.RequirementSpec, assets []string, window types.TimeWindow) (contexts, rest []adapters.DataRequest) {
	for _, a := range assets {
		contexts = append(contexts, adapters.DataRequest{Kind: adapters.KindAssetContext, AssetID: a})
	}
	signals := spec.SignalNames()
	for _, a := range assets {
		if len(signals) > 0 {
			rest = append(rest, adapters.DataRequest{Kind: adapters.KindTimeseries, AssetID: a, Signals: signals, Window: window})
		}
		if spec.NeedsEvents {
			rest = append(rest, adapters.DataRequest{Kind: adapters.KindEvents, AssetID: a, Window: window})
		}
	}
	return contexts, rest
}

// dataUsed converts a result into its evidence record. A failed request is
// recorded as unavailable.
func dataUsed(req adapters.DataRequest, res *adapters.DataResult, err error, source, granularity string) types.DataUsed {
	d := types.DataUsed{
		SourceType: adapters.SourceTelemetry,
		SourceName: source,
		Query: types.DataQuery{
			AssetID:     req.AssetID,
			Kind:        req.Kind,
			Signals:     req.Signals,
			Granularity: granularity,
		},
	}
	if req.Kind != adapters.KindAssetContext {
		w := req.Window
		d.TimeWindow = &w
	}
	if err != nil {
		d.QualityNotes = err.Error()
		d.Quality = types.DataQuality{Status: types.QualityUnavailable, SignalsReturned: []string{}}
		return d
	}

	q := res.Quality
	if res.Source != "" {
		d.SourceName = res.Source
	}
	if res.SourceType != "" {
		d.SourceType = res.SourceType
	}
	if res.Granularity != "" {
		d.Query.Granularity = res.Granularity
	}
	d.RowCount = q.RowCount
	d.QualityNotes = q.Notes
	signals := q.SignalsReturned
	if signals == nil {
		signals = []string{}
	}
	d.Quality = types.DataQuality{
		Status:              q.Status,
		ExpectedRows:        q.ExpectedRows,
		MissingRows:         q.MissingRows,
		SignalsReturned:     signals,
		EarliestObservation: q.Earliest,
		LatestObservation:   q.Latest,
	}
	return d
}

// gather runs the Gathering stage of one intent. It reports whether the
// intent must abort and why.
func (r *run) gather(ctx context.Context, st *intentRun) (bool, string, error) {
	contexts, rest := requests(st.def.Spec, r.q.Assets, r.q.Window)

	var unknown []string
	for i, res := range r.fetcher.fetchAll(ctx, contexts, r.e.cfg.MaxConcurrentRequests) {
		req := contexts[i]
		if err := st.scope.RecordDataUsed(dataUsed(req, res.res, res.err, r.e.tel.Name(), "")); err != nil {
			return false, "", err
		}
		data := st.asset(req.AssetID)
		switch {
		case res.err != nil:
			if err := st.scope.RecordGap(types.GapAdapter, types.SeveritySoft,
				fmt.Sprintf("asset context of %s unavailable: %v", req.AssetID, res.err)); err != nil {
				return false, "", err
			}
		case res.res.Asset == nil || res.res.Empty():
			unknown = append(unknown, req.AssetID)
			if err := st.scope.RecordGap(types.GapAssetIdentity, types.SeverityCritical,
				fmt.Sprintf("asset_id %s not found", req.AssetID)); err != nil {
				return false, "", err
			}
		default:
			data.Context = res.res
		}
	}
	if len(unknown) > 0 {
		return true, fmt.Sprintf("unknown asset(s): %v", unknown), nil
	}

	for i, res := range r.fetcher.fetchAll(ctx, rest, r.e.cfg.MaxConcurrentRequests) {
		req := rest[i]
		if err := st.scope.RecordDataUsed(dataUsed(req, res.res, res.err, r.e.tel.Name(), r.e.cfg.Granularity)); err != nil {
			return false, "", err
		}
		if res.err != nil {
			if err := st.scope.RecordGap(types.GapAdapter, types.SeveritySoft,
				fmt.Sprintf("%s of %s unavailable: %v", req.Kind, req.AssetID, res.err)); err != nil {
				return false, "", err
			}
			continue
		}

		data := st.asset(req.AssetID)
		if req.Kind == adapters.KindEvents {
			data.Events = res.res
			continue
		}
		data.Timeseries = res.res
		if res.res.Quality.MissingRows > 0 {
			if err := r.profileGaps(st, req, res.res); err != nil {
				return false, "", err
			}
		}
	}
	return false, "", nil
}

// profileGaps records the interruption of one series as a soft gap plus its
// gap profile.
func (r *run) profileGaps(st *intentRun, req adapters.DataRequest, res *adapters.DataResult) error {
	stats := analytics.ProfileGaps(res.MissingMask())
	if err := st.scope.RecordGap(types.GapTelemetryInterruption, types.SeveritySoft,
		fmt.Sprintf("%s: %d missing rows in %d streak(s), longest %d", req.AssetID, stats.MissingRows, stats.Streaks, stats.LongestStreak)); err != nil {
		return err
	}
	refs := []string{}
	if r.e.deps.Synthetic {
		refs = append(refs, evidence.AssumpSyntheticData)
	}
	return st.scope.RecordComputation(types.Computation{
		Name:   CompGapProfile,
		Inputs: []string{fmt.Sprintf("data_quality_flag:%s", req.AssetID)},
		Method: "Count rows flagged missing and the contiguous runs they form.",
		Outputs: map[string]any{
			"asset_id":            req.AssetID,
			"missing_rows":        stats.MissingRows,
			"missing_streaks":     stats.Streaks,
			"longest_streak_rows": stats.LongestStreak,
		},
		AssumptionRefs: refs,
	})
}
