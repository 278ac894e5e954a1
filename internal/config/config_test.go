package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Engine defaults
	assert.Equal(t, 5*time.Second, cfg.Engine.AdapterTimeout)
	assert.Equal(t, 2, cfg.Engine.RetryBudget)
	assert.Equal(t, "asset_manager", cfg.Engine.DefaultRole)

	// Confidence defaults
	assert.Equal(t, 0.80, cfg.Confidence.MinCoverage)
	assert.Equal(t, 6*time.Hour, cfg.Confidence.StaleAfter)
	assert.Equal(t, 8, cfg.Confidence.MaxGapStreak)

	// Telemetry defaults
	assert.Equal(t, "synthetic", cfg.Telemetry.Source)
	assert.Equal(t, 15*time.Minute, cfg.Telemetry.Cadence)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Tracing is off until an endpoint is set
	assert.Empty(t, cfg.Tracing.Endpoint)

	start, end, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, end.Sub(start))

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too low",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "zero adapter timeout",
			modifyFn:  func(cfg *Config) { cfg.Engine.AdapterTimeout = 0 },
			wantError: true,
			errorMsg:  "adapter_timeout must be positive",
		},
		{
			name:      "negative retry budget",
			modifyFn:  func(cfg *Config) { cfg.Engine.RetryBudget = -1 },
			wantError: true,
			errorMsg:  "retry_budget must be between 0 and 10",
		},
		{
			name:      "no concurrency",
			modifyFn:  func(cfg *Config) { cfg.Engine.MaxConcurrentRequests = 0 },
			wantError: true,
			errorMsg:  "max_concurrent_requests must be at least 1",
		},
		{
			name:      "bad window timestamp",
			modifyFn:  func(cfg *Config) { cfg.Engine.DefaultWindowStart = "yesterday" },
			wantError: true,
			errorMsg:  "invalid RFC3339 timestamp",
		},
		{
			name: "inverted window",
			modifyFn: func(cfg *Config) {
				cfg.Engine.DefaultWindowStart, cfg.Engine.DefaultWindowEnd = cfg.Engine.DefaultWindowEnd, cfg.Engine.DefaultWindowStart
			},
			wantError: true,
			errorMsg:  "window end must be after window start",
		},
		{
			name:      "unknown role",
			modifyFn:  func(cfg *Config) { cfg.Engine.DefaultRole = "ceo" },
			wantError: true,
			errorMsg:  "invalid role",
		},
		{
			name:      "coverage above one",
			modifyFn:  func(cfg *Config) { cfg.Confidence.MinCoverage = 1.5 },
			wantError: true,
			errorMsg:  "min_coverage must be in (0, 1]",
		},
		{
			name:      "zero gap streak",
			modifyFn:  func(cfg *Config) { cfg.Confidence.MaxGapStreak = 0 },
			wantError: true,
			errorMsg:  "max_gap_streak must be at least 1",
		},
		{
			name:      "unknown telemetry source",
			modifyFn:  func(cfg *Config) { cfg.Telemetry.Source = "kafka" },
			wantError: true,
			errorMsg:  "invalid telemetry source",
		},
		{
			name: "csv without data dir",
			modifyFn: func(cfg *Config) {
				cfg.Telemetry.Source = "csv"
				cfg.Telemetry.DataDir = ""
			},
			wantError: true,
			errorMsg:  "data_dir is required",
		},
		{
			name: "csv with missing data dir",
			modifyFn: func(cfg *Config) {
				cfg.Telemetry.Source = "csv"
				cfg.Telemetry.DataDir = "/nonexistent/brain-data"
			},
			wantError: true,
			errorMsg:  "data directory does not exist",
		},
		{
			name:      "missing knowledge dir",
			modifyFn:  func(cfg *Config) { cfg.Knowledge.Dir = "/nonexistent/kb" },
			wantError: true,
			errorMsg:  "knowledge directory does not exist",
		},
		{
			name:      "breaker threshold zero",
			modifyFn:  func(cfg *Config) { cfg.Breaker.FailureThreshold = 0 },
			wantError: true,
			errorMsg:  "failure_threshold must be in (0, 1]",
		},
		{
			name:      "missing sqlite path",
			modifyFn:  func(cfg *Config) { cfg.Database.SQLitePath = "" },
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "invalid" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "invalid log format",
			modifyFn:  func(cfg *Config) { cfg.Logging.Format = "text" },
			wantError: true,
			errorMsg:  "invalid log format",
		},
		{
			name: "audit without path",
			modifyFn: func(cfg *Config) {
				cfg.Audit.Enabled = true
				cfg.Audit.Path = " "
			},
			wantError: true,
			errorMsg:  "path is required when audit is enabled",
		},
		{
			name: "invalid tracing protocol",
			modifyFn: func(cfg *Config) {
				cfg.Tracing.Endpoint = "localhost:4317"
				cfg.Tracing.Protocol = "udp"
			},
			wantError: true,
			errorMsg:  "invalid tracing protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if !tt.wantError {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs, "expected validation errors but got none")
			found := false
			for _, err := range errs {
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
				}
			}
			assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
		})
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConfigManagerLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "brain.yaml")
	writeConfig(t, configPath, `
engine:
  adapter_timeout: 2s
  retry_budget: 1
  max_concurrent_requests: 8
  default_role: engineer

confidence:
  min_coverage: 0.9
  stale_after: 3h

breaker:
  max_requests: 2
  failure_threshold: 0.5

server:
  port: 9090

logging:
  level: "debug"
  format: "console"
`)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 2*time.Second, cfg.Engine.AdapterTimeout)
	assert.Equal(t, 1, cfg.Engine.RetryBudget)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrentRequests)
	assert.Equal(t, "engineer", cfg.Engine.DefaultRole)
	assert.Equal(t, 0.9, cfg.Confidence.MinCoverage)
	assert.Equal(t, 3*time.Hour, cfg.Confidence.StaleAfter)
	assert.Equal(t, uint32(2), cfg.Breaker.MaxRequests)
	assert.Equal(t, 0.5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Untouched sections keep their defaults
	assert.Equal(t, "synthetic", cfg.Telemetry.Source)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.RetryBackoff)

	require.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("BRAIN_SERVER_PORT", "7070")
	t.Setenv("BRAIN_ENGINE_RETRY_BUDGET", "5")
	t.Setenv("BRAIN_CONFIDENCE_STALE_AFTER", "12h")
	t.Setenv("BRAIN_DATA_DIR", dataDir)

	configPath := filepath.Join(t.TempDir(), "brain.yaml")
	writeConfig(t, configPath, `
server:
  port: 8081
engine:
  retry_budget: 1
`)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port, "port should be overridden by environment variable")
	assert.Equal(t, 5, cfg.Engine.RetryBudget)
	assert.Equal(t, 12*time.Hour, cfg.Confidence.StaleAfter)
	assert.Equal(t, "csv", cfg.Telemetry.Source)
	assert.Equal(t, dataDir, cfg.Telemetry.DataDir)
	require.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerShortPortOverride(t *testing.T) {
	t.Setenv("BRAIN_PORT", "6060")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	assert.Equal(t, 6060, mgr.Get(context.Background()).Server.Port)
}

func TestConfigManagerMissingFile(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
}

func TestConfigManagerBrokenFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "brain.yaml")
	writeConfig(t, configPath, "engine: [unclosed\n")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	err = mgr.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestConfigManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "brain.yaml")
	writeConfig(t, configPath, `
server:
  port: 99999
telemetry:
  source: "kafka"
`)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "telemetry.source")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "brain.yaml")
	writeConfig(t, configPath, "server:\n  port: 9000\n")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 9000, mgr.Get(ctx).Server.Port)

	writeConfig(t, configPath, "server:\n  port: 9001\n")
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 9001, mgr.Get(ctx).Server.Port)
}

func TestConfigManagerWatch(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "brain.yaml")
	writeConfig(t, configPath, "server:\n  port: 9000\n")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	updates := mgr.Watch(ctx)

	// Replace atomically so the watcher never sees a half-written file.
	tmp := filepath.Join(dir, "brain.yaml.tmp")
	writeConfig(t, tmp, "server:\n  port: 9191\n")
	require.NoError(t, os.Rename(tmp, configPath))

	select {
	case cfg := <-updates:
		assert.Equal(t, 9191, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration delivered after file change")
	}
}
