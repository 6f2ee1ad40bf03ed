package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/001Space/cartsync/pkg/config"
)

// Config holds all configuration for the cartsync daemon.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Local HTTP facade
	HTTPPort int `env:"CARTSYNC_HTTP_PORT" envDefault:"8080"`

	// Remote cart backend
	BackendURL    string        `env:"CARTSYNC_BACKEND_URL" envDefault:"http://localhost:8003"`
	RemoteTimeout time.Duration `env:"CARTSYNC_REMOTE_TIMEOUT" envDefault:"5s"`

	// Initial bearer token; usually installed later via the session
	// endpoint, but deployments with a long-lived token set it here.
	AuthToken string `env:"CARTSYNC_AUTH_TOKEN" envDefault:""`

	// Durable fallback snapshot
	SnapshotPath string `env:"CARTSYNC_SNAPSHOT_PATH" envDefault:"cartsync.db"`

	// CORS origins for browser UI consumers
	AllowedOrigins []string `env:"CARTSYNC_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	TracingEnabled bool    `env:"CARTSYNC_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"CARTSYNC_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSample    float64 `env:"CARTSYNC_TRACE_SAMPLE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cartsync config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend URL: %q", c.BackendURL)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be positive, got %s", c.RemoteTimeout)
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("snapshot path must not be empty")
	}
	return nil
}
