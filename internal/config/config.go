package config

import (
	"context"
	"time"
)

// Package config provides configuration management for kubilitics-brain.
//
// Configuration Sources (priority order, high to low):
//  1. CLI flags (highest priority)
//  2. Environment variables (BRAIN_* prefix, "." replaced by "_")
//  3. YAML config file (default: brain.yaml in the working directory)
//  4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//  1. Engine
//     - adapter_timeout: per-call deadline for every adapter port
//     - retry_budget: retries for transient adapter failures (default 2)
//     - retry_backoff: fixed pause between retries
//     - max_concurrent_requests: data requests in flight per intent
//     - default_window_start / default_window_end: RFC3339 window used
//     when a question carries none
//     - default_role: role used when a question carries none
//
//  2. Confidence
//     - min_coverage: signal/row coverage below this forces band low
//     - stale_after: latest observation older than this demotes one band
//     - model_min_confidence: model confidence below this demotes one band
//     - max_gap_streak: missing-row runs longer than this count as clustered
//
//  3. Telemetry
//     - source: "synthetic" | "csv"
//     - data_dir: CSV dataset directory (source csv)
//     - cadence: expected sampling interval
//     - granularity: label reported in data_used
//
//  4. Knowledge
//     - dir: YAML knowledge base directory (empty uses the embedded base)
//     - use_sqlite_mirror: read artifacts from the database mirror
//
//  5. Breaker
//     - max_requests, interval, timeout, failure_threshold, min_requests
//
//  6. Database
//     - sqlite_path: response archive and KB mirror
//
//  7. Logging
//     - level: "debug" | "info" | "warn" | "error"
//     - format: "json" | "console"
//     - file: optional rotated log file
//
//  8. Audit
//     - enabled, path, max_size_mb, max_backups, max_age_days
//
//  9. Tracing
//     - endpoint: OTLP collector (empty disables tracing)
//     - protocol: "grpc" | "http"
//     - sampling_rate
//
//  10. Server
//     - host, port, read/write/shutdown timeouts
//     - rate_limit_per_minute: /v1/ask requests per client (0 disables)
//
// Config struct contains all configuration fields
type Config struct {
	// Engine configuration
	Engine struct {
		AdapterTimeout        time.Duration
		RetryBudget           int
		RetryBackoff          time.Duration
		MaxConcurrentRequests int
		DefaultWindowStart    string
		DefaultWindowEnd      string
		DefaultRole           string
	}

	// Confidence scoring thresholds
	Confidence struct {
		MinCoverage        float64
		StaleAfter         time.Duration
		ModelMinConfidence float64
		MaxGapStreak       int
	}

	// Telemetry source configuration
	Telemetry struct {
		Source      string
		DataDir     string
		Cadence     time.Duration
		Granularity string
	}

	// Knowledge base configuration
	Knowledge struct {
		Dir             string
		UseSQLiteMirror bool
	}

	// Circuit breaker configuration, shared by every adapter port
	Breaker struct {
		MaxRequests      uint32
		Interval         time.Duration
		Timeout          time.Duration
		FailureThreshold float64
		MinRequests      uint32
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
	}

	// Audit configuration
	Audit struct {
		Enabled    bool
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Tracing configuration
	Tracing struct {
		Endpoint     string
		Protocol     string
		ServiceName  string
		SamplingRate float64
	}

	// Server configuration
	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		// RateLimitPerMinute caps /v1/ask per client; 0 disables it.
		RateLimitPerMinute int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers each reloaded configuration.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "brain.yaml"
