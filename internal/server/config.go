// Package server provides configuration helpers that define runtime defaults
// and sanitization for the relay.
package server

import (
	"time"

	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/directory"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string
	AllowedOrigins   []string
	MaxMessageSize   int64
	RateLimit        RateLimitConfig
	HandshakeTimeout time.Duration
	SendBuffer       int
	HistoryLimit     int
	DirectoryTimeout time.Duration
	WebDir           string
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       256,
		HistoryLimit:     directory.DefaultHistoryLimit,
		DirectoryTimeout: 5 * time.Second,
		WebDir:           "web",
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = def.DirectoryTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// ConfigFromApp maps loaded application settings onto a server Config.
func ConfigFromApp(app *config.AppConfig) Config {
	cfg := Config{
		Port:           app.Server.Addr(),
		AllowedOrigins: app.Server.AllowedOrigins,
		MaxMessageSize: app.Server.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          app.Server.RateLimit.Burst,
			RefillInterval: app.Server.RateLimit.RefillInterval,
		},
		HandshakeTimeout: app.Server.HandshakeTimeout,
		SendBuffer:       app.Server.SendBuffer,
		HistoryLimit:     app.Directory.HistoryLimit,
		DirectoryTimeout: app.Directory.Timeout,
		WebDir:           app.Server.WebDir,
	}
	if app.Metrics.Enabled {
		cfg.MetricsPath = app.Metrics.Path
	}
	return sanitizeConfig(cfg)
}
