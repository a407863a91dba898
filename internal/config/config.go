// Package config loads relay settings from defaults, an optional YAML file
// and RELAYCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAYCHAT"

type AppConfig struct {
	Server     ServerConfig
	Directory  DirectoryConfig
	Visibility VisibilityConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	AllowedOrigins   []string
	MaxMessageSize   int64
	HandshakeTimeout time.Duration
	SendBuffer       int
	ShutdownTimeout  time.Duration
	WebDir           string
	RateLimit        RateLimitConfig
}

type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

type DirectoryConfig struct {
	Driver         string
	DSN            string
	HistoryLimit   int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	SeedFile       string
}

type VisibilityConfig struct {
	// File is a YAML file with a top-level "restricted" map. Usernames are
	// case sensitive, so the map is parsed with yaml.v3 rather than viper.
	File string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Addr returns the listen address for http.Server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Load reads configuration for env ("dev", "prod", ...). When file is set it
// is read directly; otherwise config.<env>.yaml is looked up in ./configs and
// the working directory, and its absence is not an error.
func Load(env, file string) (*AppConfig, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("config env binding: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	cfg.Directory.Driver = strings.ToLower(strings.TrimSpace(cfg.Directory.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
