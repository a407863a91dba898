package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:8080"})
	v.SetDefault("server.maxMessageSize", 64*1024)
	v.SetDefault("server.handshakeTimeout", "10s")
	v.SetDefault("server.sendBuffer", 256)
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.webDir", "web")
	v.SetDefault("server.rateLimit.burst", 5)
	v.SetDefault("server.rateLimit.refillInterval", "1s")

	// Directory
	v.SetDefault("directory.driver", "memory")
	v.SetDefault("directory.dsn", "")
	v.SetDefault("directory.historyLimit", 50)
	v.SetDefault("directory.timeout", "5s")
	v.SetDefault("directory.connectTimeout", "30s")
	v.SetDefault("directory.seedFile", "")

	// Visibility
	v.SetDefault("visibility.file", "")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
