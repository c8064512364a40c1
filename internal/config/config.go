// Package config loads the server's YAML configuration: listen address,
// persistence settings, the graph registry, auth keys, CORS, retry tuning,
// and telemetry. Structure follows the reference pack's YAML-struct-plus-
// Load idiom.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEntry is one accepted API key and a descriptive label for it. The
// auth middleware matches on Key only; Label is not logged or recorded.
type APIKeyEntry struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// AuthConfig controls the gateway's API key middleware.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

// CORSConfig controls the gateway's CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// PersistenceConfig controls the Store.
type PersistenceConfig struct {
	Path               string `yaml:"path"`
	FlushIntervalMS    int    `yaml:"flush_interval_ms"`
	FatalThreshold     int    `yaml:"fatal_threshold"`
}

// RetryConfig holds the executor's retry settings. Only MaxAttempts is
// passed to the executor; PoisonThreshold is defaulted here but not read by
// the executor, which uses its own fixed threshold of 3. The backoff
// schedule is not configurable.
type RetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	PoisonThreshold int `yaml:"poison_threshold"`
}

// SchedulerConfig tunes the background dispatch and lease-sweep ticks.
type SchedulerConfig struct {
	DispatchSpec   string `yaml:"dispatch_spec"`
	LeaseSweepSpec string `yaml:"lease_sweep_spec"`
	LeaseGraceMS   int    `yaml:"lease_grace_ms"`
}

// TelemetryConfig controls OTel tracing and Prometheus metrics. Exporter is
// one of "stdout" or "none" — this core intentionally does not ship an
// OTLP/network exporter (see DESIGN.md).
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// AuditConfig controls the JSONL audit trail of run/thread lifecycle events.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// GraphConfig names one entry the graph registry exposes by graph_id. Only
// "echo" is built in; additional entries are a hook for an operator's own
// graph implementations compiled into the binary.
type GraphConfig struct {
	GraphID string `yaml:"graph_id"`
}

// Config is the top-level server configuration.
type Config struct {
	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Retry       RetryConfig       `yaml:"retry"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Audit       AuditConfig       `yaml:"audit"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`
	Graphs      []GraphConfig     `yaml:"graphs"`

	RequestMaxBytes int64 `yaml:"request_max_bytes"`
}

// setDefaults fills zero-valued fields with the server's operating
// defaults, so a minimal or empty config.yaml still produces a runnable
// server.
func (c *Config) setDefaults() {
	if c.BindAddr == "" {
		c.BindAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = "graphrun.json"
	}
	if c.Persistence.FlushIntervalMS <= 0 {
		c.Persistence.FlushIntervalMS = 5000
	}
	if c.Persistence.FatalThreshold <= 0 {
		c.Persistence.FatalThreshold = 5
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.PoisonThreshold <= 0 {
		c.Retry.PoisonThreshold = 3
	}
	if c.Scheduler.DispatchSpec == "" {
		c.Scheduler.DispatchSpec = "@every 200ms"
	}
	if c.Scheduler.LeaseSweepSpec == "" {
		c.Scheduler.LeaseSweepSpec = "@every 30s"
	}
	if c.Scheduler.LeaseGraceMS <= 0 {
		c.Scheduler.LeaseGraceMS = 120000
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "graphrun"
	}
	if c.Telemetry.SampleRate <= 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "audit.jsonl"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization", "X-API-Key"}
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = 3600
	}
	if c.RequestMaxBytes <= 0 {
		c.RequestMaxBytes = 10 * 1024 * 1024
	}
}

// FlushInterval returns Persistence.FlushIntervalMS as a time.Duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Persistence.FlushIntervalMS) * time.Millisecond
}

// LeaseGrace returns Scheduler.LeaseGraceMS as a time.Duration.
func (c Config) LeaseGrace() time.Duration {
	return time.Duration(c.Scheduler.LeaseGraceMS) * time.Millisecond
}

// Load reads path as YAML, applying defaults to anything left unset. A
// missing file is not an error: the server runs with defaults alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.setDefaults()
	return cfg, nil
}
