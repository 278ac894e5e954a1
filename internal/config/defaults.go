package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Engine defaults
	cfg.Engine.AdapterTimeout = 5 * time.Second
	cfg.Engine.RetryBudget = 2
	cfg.Engine.RetryBackoff = 50 * time.Millisecond
	cfg.Engine.MaxConcurrentRequests = 4
	cfg.Engine.DefaultWindowStart = "2025-12-01T00:00:00Z"
	cfg.Engine.DefaultWindowEnd = "2025-12-15T00:00:00Z"
	cfg.Engine.DefaultRole = "asset_manager"

	// Confidence defaults
	cfg.Confidence.MinCoverage = 0.80
	cfg.Confidence.StaleAfter = 6 * time.Hour
	cfg.Confidence.ModelMinConfidence = 0.5
	cfg.Confidence.MaxGapStreak = 8

	// Telemetry defaults
	cfg.Telemetry.Source = "synthetic"
	cfg.Telemetry.DataDir = "data"
	cfg.Telemetry.Cadence = 15 * time.Minute
	cfg.Telemetry.Granularity = "15min"

	// Knowledge defaults (embedded base)
	cfg.Knowledge.Dir = ""
	cfg.Knowledge.UseSQLiteMirror = false

	// Breaker defaults
	cfg.Breaker.MaxRequests = 5
	cfg.Breaker.Interval = 30 * time.Second
	cfg.Breaker.Timeout = 60 * time.Second
	cfg.Breaker.FailureThreshold = 0.8
	cfg.Breaker.MinRequests = 5

	// Database defaults
	cfg.Database.SQLitePath = "brain.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 5

	// Audit defaults
	cfg.Audit.Enabled = false
	cfg.Audit.Path = "logs/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30

	// Tracing defaults (disabled)
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Protocol = "grpc"
	cfg.Tracing.ServiceName = "kubilitics-brain"
	cfg.Tracing.SamplingRate = 1.0

	// Server defaults
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8090
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.RateLimitPerMinute = 120

	return cfg
}

// Window parses the default engine window.
func (c *Config) Window() (start, end time.Time, err error) {
	if start, err = time.Parse(time.RFC3339, c.Engine.DefaultWindowStart); err != nil {
		return
	}
	end, err = time.Parse(time.RFC3339, c.Engine.DefaultWindowEnd)
	return
}
