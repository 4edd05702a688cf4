// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SIM"

// Stream transports.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config holds all application configuration.
type Config struct {
	APIURL         string        `envconfig:"API_URL" default:"http://localhost:8080"`
	Transport      string        `envconfig:"STREAM_TRANSPORT" default:"sse"`
	DBPath         string        `envconfig:"DB_PATH" default:"./data/simclient.db"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	StreamTimeout  time.Duration `envconfig:"STREAM_TIMEOUT" default:"60s"`
	RateLimitRPS   float64       `envconfig:"RATE_LIMIT_RPS" default:"5"`
	EndRetries     int           `envconfig:"END_RETRIES" default:"2"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	BookmarkTTL    time.Duration `envconfig:"BOOKMARK_TTL" default:"720h"`

	Retry       RetryConfig       `envconfig:"RETRY"`
	Redirect    RedirectConfig    `envconfig:"REDIRECT"`
	Diagnostics DiagnosticsConfig `envconfig:"DIAGNOSTICS"`
}

// RetryConfig bounds operator-driven retries.
type RetryConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	Delay       time.Duration `envconfig:"DELAY" default:"500ms"`
}

// RedirectConfig holds how long a failure message shows before leaving the view.
type RedirectConfig struct {
	NotFoundDelay time.Duration `envconfig:"NOT_FOUND_DELAY" default:"3s"`
	AuthDelay     time.Duration `envconfig:"AUTH_DELAY" default:"2s"`
}

// DiagnosticsConfig controls the NDJSON failure log.
type DiagnosticsConfig struct {
	Enabled   bool   `envconfig:"ENABLED" default:"true"`
	Dir       string `envconfig:"DIR" default:"./data/logs/diagnostics"`
	QueueSize int    `envconfig:"QUEUE_SIZE" default:"256"`
}

// Load reads configuration from SIM_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SIM_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	switch c.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("SIM_STREAM_TRANSPORT must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.Transport)
	}
	if c.DBPath == "" {
		return fmt.Errorf("SIM_DB_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 || c.StreamTimeout <= 0 {
		return fmt.Errorf("SIM_REQUEST_TIMEOUT and SIM_STREAM_TIMEOUT must be > 0")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("SIM_RATE_LIMIT_RPS must be >= 0")
	}
	if c.EndRetries < 0 {
		return fmt.Errorf("SIM_END_RETRIES must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("SIM_RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("SIM_RETRY_DELAY must be >= 0")
	}
	if c.Diagnostics.Enabled {
		if c.Diagnostics.Dir == "" {
			return fmt.Errorf("SIM_DIAGNOSTICS_DIR cannot be empty")
		}
		if c.Diagnostics.QueueSize <= 0 {
			return fmt.Errorf("SIM_DIAGNOSTICS_QUEUE_SIZE must be > 0")
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true when talking to a local service.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.APIURL, "localhost") || strings.Contains(c.APIURL, "127.0.0.1")
}

// ParseLevel maps SIM_LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("SIM_LOG_LEVEL: %w", err)
	}
	return level, nil
}
