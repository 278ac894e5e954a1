package server

import (
	"fmt"
	"time"

	"github.com/kubilitics/kubilitics-brain/internal/config"
)

// Config represents the server configuration
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RateLimitPerMinute caps POST /v1/ask per client IP. 0 disables it.
	RateLimitPerMinute int
}

// ConfigFrom copies the server section of the application config.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
