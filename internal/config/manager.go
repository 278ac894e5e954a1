package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (BRAIN_SERVER_PORT, ...).
const EnvPrefix = "BRAIN"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine: defaults + env vars apply
	if err := m.readConfig(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

func (m *viperConfigManager) readConfig() error {
	if m.configPath == "" {
		return nil
	}
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Invalid configs are
// not delivered.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || m.configPath == "" {
		return m.watchChan
	}
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			m.applyEnvOverrides()
			cfg := *m.Get(ctx)
			if len(cfg.Validate()) > 0 {
				return
			}
			select {
			case m.watchChan <- cfg:
			default:
				// Channel full, skip this update
			}
		})
		m.viper.WatchConfig()
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.readConfig(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Engine defaults
	m.viper.SetDefault("engine.adapter_timeout", defaults.Engine.AdapterTimeout)
	m.viper.SetDefault("engine.retry_budget", defaults.Engine.RetryBudget)
	m.viper.SetDefault("engine.retry_backoff", defaults.Engine.RetryBackoff)
	m.viper.SetDefault("engine.max_concurrent_requests", defaults.Engine.MaxConcurrentRequests)
	m.viper.SetDefault("engine.default_window_start", defaults.Engine.DefaultWindowStart)
	m.viper.SetDefault("engine.default_window_end", defaults.Engine.DefaultWindowEnd)
	m.viper.SetDefault("engine.default_role", defaults.Engine.DefaultRole)

	// Confidence defaults
	m.viper.SetDefault("confidence.min_coverage", defaults.Confidence.MinCoverage)
	m.viper.SetDefault("confidence.stale_after", defaults.Confidence.StaleAfter)
	m.viper.SetDefault("confidence.model_min_confidence", defaults.Confidence.ModelMinConfidence)
	m.viper.SetDefault("confidence.max_gap_streak", defaults.Confidence.MaxGapStreak)

	// Telemetry defaults
	m.viper.SetDefault("telemetry.source", defaults.Telemetry.Source)
	m.viper.SetDefault("telemetry.data_dir", defaults.Telemetry.DataDir)
	m.viper.SetDefault("telemetry.cadence", defaults.Telemetry.Cadence)
	m.viper.SetDefault("telemetry.granularity", defaults.Telemetry.Granularity)

	// Knowledge defaults
	m.viper.SetDefault("knowledge.dir", defaults.Knowledge.Dir)
	m.viper.SetDefault("knowledge.use_sqlite_mirror", defaults.Knowledge.UseSQLiteMirror)

	// Breaker defaults
	m.viper.SetDefault("breaker.max_requests", defaults.Breaker.MaxRequests)
	m.viper.SetDefault("breaker.interval", defaults.Breaker.Interval)
	m.viper.SetDefault("breaker.timeout", defaults.Breaker.Timeout)
	m.viper.SetDefault("breaker.failure_threshold", defaults.Breaker.FailureThreshold)
	m.viper.SetDefault("breaker.min_requests", defaults.Breaker.MinRequests)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.path", defaults.Audit.Path)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.protocol", defaults.Tracing.Protocol)
	m.viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	m.viper.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Engine
	cfg.Engine.AdapterTimeout = m.viper.GetDuration("engine.adapter_timeout")
	cfg.Engine.RetryBudget = m.viper.GetInt("engine.retry_budget")
	cfg.Engine.RetryBackoff = m.viper.GetDuration("engine.retry_backoff")
	cfg.Engine.MaxConcurrentRequests = m.viper.GetInt("engine.max_concurrent_requests")
	cfg.Engine.DefaultWindowStart = m.viper.GetString("engine.default_window_start")
	cfg.Engine.DefaultWindowEnd = m.viper.GetString("engine.default_window_end")
	cfg.Engine.DefaultRole = m.viper.GetString("engine.default_role")

	// Confidence
	cfg.Confidence.MinCoverage = m.viper.GetFloat64("confidence.min_coverage")
	cfg.Confidence.StaleAfter = m.viper.GetDuration("confidence.stale_after")
	cfg.Confidence.ModelMinConfidence = m.viper.GetFloat64("confidence.model_min_confidence")
	cfg.Confidence.MaxGapStreak = m.viper.GetInt("confidence.max_gap_streak")

	// Telemetry
	cfg.Telemetry.Source = m.viper.GetString("telemetry.source")
	cfg.Telemetry.DataDir = m.viper.GetString("telemetry.data_dir")
	cfg.Telemetry.Cadence = m.viper.GetDuration("telemetry.cadence")
	cfg.Telemetry.Granularity = m.viper.GetString("telemetry.granularity")

	// Knowledge
	cfg.Knowledge.Dir = m.viper.GetString("knowledge.dir")
	cfg.Knowledge.UseSQLiteMirror = m.viper.GetBool("knowledge.use_sqlite_mirror")

	// Breaker
	cfg.Breaker.MaxRequests = m.viper.GetUint32("breaker.max_requests")
	cfg.Breaker.Interval = m.viper.GetDuration("breaker.interval")
	cfg.Breaker.Timeout = m.viper.GetDuration("breaker.timeout")
	cfg.Breaker.FailureThreshold = m.viper.GetFloat64("breaker.failure_threshold")
	cfg.Breaker.MinRequests = m.viper.GetUint32("breaker.min_requests")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.Path = m.viper.GetString("audit.path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")

	// Tracing
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.Protocol = m.viper.GetString("tracing.protocol")
	cfg.Tracing.ServiceName = m.viper.GetString("tracing.service_name")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeout = m.viper.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = m.viper.GetDuration("server.write_timeout")
	cfg.Server.ShutdownTimeout = m.viper.GetDuration("server.shutdown_timeout")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies the short-form environment overrides.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// BRAIN_DATA_DIR switches to the CSV dataset in that directory
	if dir := os.Getenv("BRAIN_DATA_DIR"); dir != "" {
		m.config.Telemetry.Source = "csv"
		m.config.Telemetry.DataDir = dir
	}

	// BRAIN_PORT is accepted next to BRAIN_SERVER_PORT
	if portEnv := os.Getenv("BRAIN_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
