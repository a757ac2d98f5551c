// Package config provides centralized configuration management for the
// importer. Ambient settings (logging, the diagnostics server, HTTP
// timeouts/retries, default concurrency) load from environment variables
// and an optional TOML file with sensible defaults and fail-fast validation
// on startup; per-invocation behavior (token, target URL, column rules) is
// bound directly from Cobra flags in cmd/tabsync and is not part of this
// struct (SPEC_FULL.md §6).
package config

import "time"

// Config holds the ambient application configuration, independent of any
// single run's CLI flags.
type Config struct {
	Logging     LoggingConfig
	Diagnostics DiagnosticsConfig
	HTTP        HTTPConfig
	Run         RunDefaults
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" toml:"log_level" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" toml:"log_format" default:"text"`
}

// DiagnosticsConfig holds the optional diagnostics HTTP server's settings
// (SPEC_FULL.md §2.1, serving /healthz and /progress during a run).
type DiagnosticsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8090". Empty disables the
	// server (default: disabled).
	Addr string `env:"DIAGNOSTICS_ADDR" toml:"diagnostics_addr" default:""`

	// ShutdownTimeout bounds graceful shutdown once the run completes.
	ShutdownTimeout time.Duration `env:"DIAGNOSTICS_SHUTDOWN_TIMEOUT" toml:"diagnostics_shutdown_timeout" default:"5s"`

	// TrustedProxies lists CIDRs (or bare IPs) allowed to set X-Real-IP /
	// X-Forwarded-For on requests to the diagnostics server. Empty means no
	// proxy is trusted and RemoteAddr is always used as-is.
	TrustedProxies []string `env:"DIAGNOSTICS_TRUSTED_PROXIES" toml:"diagnostics_trusted_proxies"`
}

// HTTPConfig holds settings for outbound calls to the hosted service.
type HTTPConfig struct {
	// Timeout is loaded and validated (default: 30s) but not read by the
	// HTTP client, which bounds each request by remote.RequestTimeout.
	Timeout time.Duration `env:"HTTP_TIMEOUT" toml:"http_timeout" default:"30s"`

	// MaxRetries is how many times a retryable request (429, 5xx) is retried
	// with exponential backoff before giving up (default: 5).
	MaxRetries int `env:"HTTP_MAX_RETRIES" toml:"http_max_retries" default:"5"`

	// RateLimitPerSecond caps outbound write requests per second (default: 3,
	// matching the hosted service's documented per-integration limit).
	RateLimitPerSecond float64 `env:"HTTP_RATE_LIMIT" toml:"http_rate_limit" default:"3"`
}

// RunDefaults holds the default values for flags a user may omit.
type RunDefaults struct {
	// MaxThreads is the default --max-threads value (default: 5).
	MaxThreads int `env:"RUN_MAX_THREADS" toml:"max_threads" default:"5"`

	// MaxWaitTime is loaded and validated (default: 30s) but not read by the
	// dispatcher, which waits for a free worker slot until the run's context
	// is cancelled.
	MaxWaitTime time.Duration `env:"RUN_MAX_WAIT_TIME" toml:"max_wait_time" default:"30s"`
}

// String returns a string representation of the config safe for logging.
// Nothing in Config is currently sensitive, but the method is kept so
// callers have one stable place to log startup configuration from.
func (c *Config) String() string {
	return "Config{Logging: {Level: " + c.Logging.Level + ", Format: " + c.Logging.Format +
		"}, Diagnostics: {Addr: " + c.Diagnostics.Addr + "}}"
}
