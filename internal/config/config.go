// Package config handles YAML configuration loading with environment
// variable expansion and environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration. Static wiring lives here;
// operational knobs (retention, sync interval, log level) live in the
// settings table and are only seeded from this file on first run.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Sync      SyncConfig      `yaml:"sync"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Keys      []KeyEntry      `yaml:"keys"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"STAYCACHE_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"STAYCACHE_DB"` // file path or ":memory:"
}

// CryptoConfig holds the payload encryption secrets. PreviousSecrets keeps
// rotated-out secrets readable; new writes always use Secret.
type CryptoConfig struct {
	Secret          string   `yaml:"secret" env:"STAYCACHE_SECRET"`
	PreviousSecrets []string `yaml:"previous_secrets"`
}

// UpstreamConfig holds the booking API endpoint and seed credentials.
// Credentials are seeded into settings on first run and managed there
// afterwards.
type UpstreamConfig struct {
	BaseURL  string `yaml:"base_url" env:"STAYCACHE_UPSTREAM_URL"`
	Username string `yaml:"username" env:"STAYCACHE_UPSTREAM_USERNAME"`
	Password string `yaml:"password" env:"STAYCACHE_UPSTREAM_PASSWORD"`
	APIKey   string `yaml:"api_key" env:"STAYCACHE_UPSTREAM_API_KEY"`
	Region   string `yaml:"region" env:"STAYCACHE_UPSTREAM_REGION"`
}

// SyncConfig seeds the sync-related settings on first run.
type SyncConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	FutureDays      int `yaml:"future_days"`
	PastDays        int `yaml:"past_days"`
	CancelledDays   int `yaml:"cancelled_days"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint" env:"STAYCACHE_OTLP_ENDPOINT"`
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Label string `yaml:"label"`
	Key   string `yaml:"key"` // plaintext, hashed on bootstrap
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file. ${VAR} patterns in the file are
// expanded first; afterwards env-tagged fields are overridden by their
// environment variables, so deployment secrets never need to touch the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if cfg.Crypto.Secret == "" {
		return nil, fmt.Errorf("crypto.secret is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "staycache.db",
		},
		Sync: SyncConfig{
			IntervalSeconds: 20,
			FutureDays:      365,
			PastDays:        30,
			CancelledDays:   30,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
	}
}
