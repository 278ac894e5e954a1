package resilient

// Package resilient guards adapter ports with a per-call timeout, a small
// fixed retry budget for transient failures and a circuit breaker per port.
//
// Logic failures (unknown model, unsupported signal, model failures) are
// returned on the first attempt and never count against the breaker.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/metrics"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// BreakerConfig configures the circuit breaker of one port.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// Config configures a guarded port.
type Config struct {
	Timeout     time.Duration
	RetryBudget int
	Backoff     time.Duration
	Breaker     BreakerConfig
}

// DefaultConfig returns the defaults used when no configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Timeout:     5 * time.Second,
		RetryBudget: 2,
		Backoff:     50 * time.Millisecond,
		Breaker: BreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

type guard struct {
	port   string
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func newGuard(port string, cfg Config, logger *zap.Logger) *guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	g := &guard{port: port, cfg: cfg, logger: logger.Named("resilient").With(zap.String("port", port))}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        port,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !infrastructureFailure(err)
		},
	})
	return g
}

func infrastructureFailure(err error) bool {
	return adapters.IsTransient(err) || errors.Is(err, adapters.ErrAdapterUnavailable)
}

type outcome[T any] struct {
	val T
	err error
}

// call runs fn with a timeout, retrying transient failures within the budget.
func call[T any](ctx context.Context, g *guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	defer func() {
		metrics.AdapterCallDuration.WithLabelValues(g.port, op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for try := 0; try <= g.cfg.RetryBudget; try++ {
		if try > 0 {
			metrics.AdapterRetriesTotal.WithLabelValues(g.port).Inc()
			g.logger.Debug("retrying adapter call", zap.String("operation", op), zap.Int("attempt", try), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(g.cfg.Backoff):
			}
		}

		res, err := g.cb.Execute(func() (interface{}, error) {
			return attempt(ctx, g, op, fn)
		})
		if err == nil {
			metrics.AdapterCallsTotal.WithLabelValues(g.port, op, "ok").Inc()
			v, _ := res.(T)
			return v, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.AdapterCallsTotal.WithLabelValues(g.port, op, "rejected").Inc()
			return zero, fmt.Errorf("%s %s: %w: %v", g.port, op, adapters.ErrAdapterUnavailable, err)
		}

		lastErr = err
		if !adapters.IsTransient(err) || ctx.Err() != nil {
			break
		}
	}

	status := "error"
	if errors.Is(lastErr, adapters.ErrAdapterTimeout) {
		status = "timeout"
	}
	metrics.AdapterCallsTotal.WithLabelValues(g.port, op, status).Inc()
	return zero, lastErr
}

// attempt runs fn once under the per-call timeout. A call that ignores its
// context is abandoned when the deadline passes.
func attempt[T any](ctx context.Context, g *guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%s %s: %w", g.port, op, adapters.ErrAdapterTimeout)
		}
		return out.val, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%s %s after %s: %w", g.port, op, g.cfg.Timeout, adapters.ErrAdapterTimeout)
	}
}

// Telemetry guards a telemetry port.
type Telemetry struct {
	next adapters.Telemetry
	g    *guard
}

var _ adapters.Telemetry = (*Telemetry)(nil)

// WrapTelemetry guards next.
func WrapTelemetry(next adapters.Telemetry, cfg Config, logger *zap.Logger) *Telemetry {
	return &Telemetry{next: next, g: newGuard("telemetry", cfg, logger)}
}

// Name returns the wrapped source name.
func (t *Telemetry) Name() string { return t.next.Name() }

func (t *Telemetry) GetTimeseries(ctx context.Context, assetID string, signals []string, window types.TimeWindow) (*adapters.DataResult, error) {
	return call(ctx, t.g, "get_timeseries", func(ctx context.Context) (*adapters.DataResult, error) {
		return t.next.GetTimeseries(ctx, assetID, signals, window)
	})
}

func (t *Telemetry) GetEvents(ctx context.Context, assetID string, window types.TimeWindow) (*adapters.DataResult, error) {
	return call(ctx, t.g, "get_events", func(ctx context.Context) (*adapters.DataResult, error) {
		return t.next.GetEvents(ctx, assetID, window)
	})
}

func (t *Telemetry) GetAssetContext(ctx context.Context, assetID string) (*adapters.DataResult, error) {
	return call(ctx, t.g, "get_asset_context", func(ctx context.Context) (*adapters.DataResult, error) {
		return t.next.GetAssetContext(ctx, assetID)
	})
}

// Models guards a model port.
type Models struct {
	next adapters.ModelRunner
	g    *guard
}

var _ adapters.ModelRunner = (*Models)(nil)

// WrapModels guards next.
func WrapModels(next adapters.ModelRunner, cfg Config, logger *zap.Logger) *Models {
	return &Models{next: next, g: newGuard("model", cfg, logger)}
}

func (m *Models) RunModel(ctx context.Context, name string, in adapters.ModelInputs) (*adapters.ModelOutput, error) {
	return call(ctx, m.g, "run_model", func(ctx context.Context) (*adapters.ModelOutput, error) {
		return m.next.RunModel(ctx, name, in)
	})
}
