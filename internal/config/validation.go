package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/relaychat/internal/directory"
	"github.com/Tyrowin/relaychat/internal/logging"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	if c.Server.HandshakeTimeout < time.Second {
		return errors.New("handshake timeout must be at least 1 second")
	}

	if c.Server.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}

	if c.Server.SendBuffer < 1 {
		return errors.New("send buffer must be positive")
	}

	if c.Server.RateLimit.Burst < 1 || c.Server.RateLimit.RefillInterval <= 0 {
		return errors.New("rate limit burst and refill interval must be positive")
	}

	if !isDriver(c.Directory.Driver) {
		return fmt.Errorf("invalid directory driver: %s. Must be one of %s",
			c.Directory.Driver, strings.Join(directory.Drivers(), ", "))
	}
	if c.Directory.Driver != directory.DriverMemory && c.Directory.DSN == "" {
		return fmt.Errorf("directory dsn must be specified for %s driver", c.Directory.Driver)
	}

	if c.Directory.HistoryLimit < 1 {
		return errors.New("history limit must be positive")
	}

	if c.Directory.Timeout <= 0 || c.Directory.ConnectTimeout <= 0 {
		return errors.New("directory timeouts must be positive")
	}

	if err := logging.Validate(c.Log.Level); err != nil {
		return err
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics path must start with '/'")
	}

	return nil
}

func isDriver(name string) bool {
	for _, d := range directory.Drivers() {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		// PORT and HOST keep the plain names used by hosting platforms.
		"server.port":             {"RELAYCHAT_PORT", "PORT"},
		"server.host":             {"RELAYCHAT_HOST", "HOST"},
		"server.allowedOrigins":   {"RELAYCHAT_ALLOWED_ORIGINS"},
		"server.maxMessageSize":   {"RELAYCHAT_MAX_MESSAGE_SIZE"},
		"server.handshakeTimeout": {"RELAYCHAT_HANDSHAKE_TIMEOUT"},
		"server.webDir":           {"RELAYCHAT_WEB_DIR"},
		"server.rateLimit.burst":  {"RELAYCHAT_RATE_LIMIT_BURST"},

		"server.rateLimit.refillInterval": {"RELAYCHAT_RATE_LIMIT_REFILL_INTERVAL"},

		"directory.driver":       {"RELAYCHAT_DIRECTORY_DRIVER"},
		"directory.dsn":          {"RELAYCHAT_DIRECTORY_DSN", "DATABASE_URL"},
		"directory.historyLimit": {"RELAYCHAT_HISTORY_LIMIT"},
		"directory.seedFile":     {"RELAYCHAT_SEED_FILE"},

		"visibility.file": {"RELAYCHAT_VISIBILITY_FILE"},

		"log.level":  {"RELAYCHAT_LOG_LEVEL"},
		"log.format": {"RELAYCHAT_LOG_FORMAT"},

		"metrics.enabled": {"RELAYCHAT_METRICS_ENABLED"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}
