package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/knowledge"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/model"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/resilient"
	"github.com/kubilitics/kubilitics-brain/internal/adapters/telemetry"
	"github.com/kubilitics/kubilitics-brain/internal/audit"
	"github.com/kubilitics/kubilitics-brain/internal/config"
	"github.com/kubilitics/kubilitics-brain/internal/db"
	"github.com/kubilitics/kubilitics-brain/internal/logging"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-brain/internal/tracing"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// modelMinPoints is the smallest series the fade model accepts.
const modelMinPoints = 10

type runtimeOptions struct {
	// store opens the sqlite archive even when the KB mirror is off.
	store bool
	// dataDir switches telemetry to the CSV dataset in that directory.
	dataDir string
}

// runtime is everything a command needs, built from config.
type runtime struct {
	mgr    config.ConfigManager
	cfg    *config.Config
	logger *logging.Logger
	audit  audit.Logger
	store  db.Store
	brain  *engine.Engine

	closers []func(context.Context) error
}

// loadConfig reads the config file, env overrides and the --log-level flag.
func (a *app) loadConfig(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}
	cfg := mgr.Get(ctx)
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

func (a *app) newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Output:     a.stderr,
	})
}

// newRuntime wires config, logging, audit, tracing, storage, adapters and
// the engine. The caller must Close it.
func (a *app) newRuntime(ctx context.Context, opts runtimeOptions) (_ *runtime, err error) {
	mgr, cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := a.newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	rt := &runtime{mgr: mgr, cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func(context.Context) error { return logger.Close() })
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.audit = audit.NewNopLogger()
	if cfg.Audit.Enabled {
		rt.audit, err = audit.NewLogger(&audit.Config{
			AuditLogPath:  cfg.Audit.Path,
			MaxSize:       cfg.Audit.MaxSizeMB,
			MaxBackups:    cfg.Audit.MaxBackups,
			MaxAge:        cfg.Audit.MaxAgeDays,
			Compress:      true,
			FlushInterval: time.Second,
		}, logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		auditLog := rt.audit
		rt.closers = append(rt.closers, func(context.Context) error { return auditLog.Close() })
	}
	_ = rt.audit.LogConfigLoaded(ctx, a.configPath)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		Protocol:     cfg.Tracing.Protocol,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)

	if opts.store || cfg.Knowledge.UseSQLiteMirror {
		store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.store = store
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
	}

	kb, err := rt.knowledgeBase()
	if err != nil {
		return nil, err
	}
	tel, synthetic, err := rt.telemetry(opts.dataDir)
	if err != nil {
		return nil, err
	}

	rcfg := resilientConfig(cfg)
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	deps := engine.Deps{
		Telemetry: resilient.WrapTelemetry(tel, rcfg, logger.Logger),
		Models:    resilient.WrapModels(model.NewRunner(modelMinPoints), rcfg, logger.Logger),
		KB:        kb,
		Audit:     rt.audit,
		Logger:    logger.Logger,
		Synthetic: synthetic,
	}
	if rt.store != nil {
		deps.Store = rt.store
	}
	rt.brain, err = engine.New(ecfg, deps)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) knowledgeBase() (adapters.KnowledgeBase, error) {
	switch {
	case rt.cfg.Knowledge.UseSQLiteMirror:
		return knowledge.NewStoreBase(rt.store, rt.logger.Logger), nil
	case rt.cfg.Knowledge.Dir != "":
		return knowledge.LoadDir(rt.cfg.Knowledge.Dir)
	default:
		return knowledge.Default()
	}
}

// telemetry returns the configured source and whether it is synthetic.
func (rt *runtime) telemetry(dataDir string) (adapters.Telemetry, bool, error) {
	source, dir := rt.cfg.Telemetry.Source, rt.cfg.Telemetry.DataDir
	if dataDir != "" {
		source, dir = "csv", dataDir
	}
	switch source {
	case "csv":
		ds, err := telemetry.LoadDir(dir)
		if err != nil {
			return nil, false, err
		}
		rt.logger.Debug("loaded telemetry dataset", zap.String("dir", dir), zap.Int("assets", len(ds.Assets)))
		return telemetry.NewAdapter("csv", ds), false, nil
	case "synthetic":
		scfg := telemetry.DefaultSyntheticConfig()
		if rt.cfg.Telemetry.Cadence > 0 {
			scfg.Cadence = rt.cfg.Telemetry.Cadence
		}
		return telemetry.NewAdapter("synthetic", telemetry.GenerateSynthetic(scfg)), true, nil
	default:
		return nil, false, fmt.Errorf("unknown telemetry source %q", source)
	}
}

func resilientConfig(cfg *config.Config) resilient.Config {
	return resilient.Config{
		Timeout:     cfg.Engine.AdapterTimeout,
		RetryBudget: cfg.Engine.RetryBudget,
		Backoff:     cfg.Engine.RetryBackoff,
		Breaker: resilient.BreakerConfig{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			MinRequests:      cfg.Breaker.MinRequests,
		},
	}
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	ecfg := engine.DefaultConfig()
	ecfg.MaxConcurrentRequests = cfg.Engine.MaxConcurrentRequests
	ecfg.Granularity = cfg.Telemetry.Granularity
	ecfg.DefaultRole = cfg.Engine.DefaultRole
	ecfg.Confidence.MinCoverage = cfg.Confidence.MinCoverage
	ecfg.Confidence.StaleAfter = cfg.Confidence.StaleAfter
	ecfg.Confidence.ModelMinConfidence = cfg.Confidence.ModelMinConfidence
	ecfg.Confidence.MaxGapStreak = cfg.Confidence.MaxGapStreak

	start, err := time.Parse(time.RFC3339, cfg.Engine.DefaultWindowStart)
	if err != nil {
		return ecfg, fmt.Errorf("engine.default_window_start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, cfg.Engine.DefaultWindowEnd)
	if err != nil {
		return ecfg, fmt.Errorf("engine.default_window_end: %w", err)
	}
	ecfg.DefaultWindow = types.TimeWindow{Start: start.UTC(), End: end.UTC()}
	return ecfg, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
