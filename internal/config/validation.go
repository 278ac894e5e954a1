package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Validate engine configuration
	if c.Engine.AdapterTimeout <= 0 {
		add("engine.adapter_timeout", "adapter_timeout must be positive, got %s", c.Engine.AdapterTimeout)
	}
	if c.Engine.RetryBudget < 0 || c.Engine.RetryBudget > 10 {
		add("engine.retry_budget", "retry_budget must be between 0 and 10, got %d", c.Engine.RetryBudget)
	}
	if c.Engine.RetryBackoff < 0 {
		add("engine.retry_backoff", "retry_backoff cannot be negative")
	}
	if c.Engine.MaxConcurrentRequests < 1 {
		add("engine.max_concurrent_requests", "max_concurrent_requests must be at least 1, got %d", c.Engine.MaxConcurrentRequests)
	}
	start, err := time.Parse(time.RFC3339, c.Engine.DefaultWindowStart)
	if err != nil {
		add("engine.default_window_start", "invalid RFC3339 timestamp %q", c.Engine.DefaultWindowStart)
	}
	end, err2 := time.Parse(time.RFC3339, c.Engine.DefaultWindowEnd)
	if err2 != nil {
		add("engine.default_window_end", "invalid RFC3339 timestamp %q", c.Engine.DefaultWindowEnd)
	}
	if err == nil && err2 == nil && !end.After(start) {
		add("engine.default_window_end", "window end must be after window start")
	}
	validRoles := map[string]bool{"asset_manager": true, "operator": true, "analyst": true, "engineer": true}
	if !validRoles[c.Engine.DefaultRole] {
		add("engine.default_role", "invalid role '%s', must be one of: asset_manager, operator, analyst, engineer", c.Engine.DefaultRole)
	}

	// Validate confidence thresholds
	if c.Confidence.MinCoverage <= 0 || c.Confidence.MinCoverage > 1 {
		add("confidence.min_coverage", "min_coverage must be in (0, 1], got %g", c.Confidence.MinCoverage)
	}
	if c.Confidence.StaleAfter <= 0 {
		add("confidence.stale_after", "stale_after must be positive")
	}
	if c.Confidence.ModelMinConfidence < 0 || c.Confidence.ModelMinConfidence > 1 {
		add("confidence.model_min_confidence", "model_min_confidence must be in [0, 1], got %g", c.Confidence.ModelMinConfidence)
	}
	if c.Confidence.MaxGapStreak < 1 {
		add("confidence.max_gap_streak", "max_gap_streak must be at least 1, got %d", c.Confidence.MaxGapStreak)
	}

	// Validate telemetry configuration
	switch c.Telemetry.Source {
	case "synthetic":
	case "csv":
		if c.Telemetry.DataDir == "" {
			add("telemetry.data_dir", "data_dir is required when source is csv")
		} else if info, err := os.Stat(c.Telemetry.DataDir); err != nil || !info.IsDir() {
			add("telemetry.data_dir", "data directory does not exist: %s", c.Telemetry.DataDir)
		}
	default:
		add("telemetry.source", "invalid telemetry source '%s', must be one of: synthetic, csv", c.Telemetry.Source)
	}
	if c.Telemetry.Cadence <= 0 {
		add("telemetry.cadence", "cadence must be positive")
	}

	// Validate knowledge configuration
	if c.Knowledge.Dir != "" {
		if info, err := os.Stat(c.Knowledge.Dir); err != nil || !info.IsDir() {
			add("knowledge.dir", "knowledge directory does not exist: %s", c.Knowledge.Dir)
		}
	}
	if c.Knowledge.UseSQLiteMirror && c.Database.SQLitePath == "" {
		add("knowledge.use_sqlite_mirror", "use_sqlite_mirror requires database.sqlite_path")
	}

	// Validate breaker configuration
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 1 {
		add("breaker.failure_threshold", "failure_threshold must be in (0, 1], got %g", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Timeout <= 0 {
		add("breaker.timeout", "timeout must be positive")
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required")
	}

	// Validate logging configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "invalid log format '%s', must be one of: json, console", c.Logging.Format)
	}

	// Validate audit configuration
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		add("audit.path", "path is required when audit is enabled")
	}

	// Validate tracing configuration
	if c.Tracing.Endpoint != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		add("tracing.protocol", "invalid tracing protocol '%s', must be one of: grpc, http", c.Tracing.Protocol)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling_rate must be in [0, 1], got %g", c.Tracing.SamplingRate)
	}

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "shutdown_timeout must be positive")
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "rate_limit_per_minute must be >= 0 (0 disables it)")
	}

	return errs
}
