// Package config provides hierarchical configuration loading for dispatch.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the dispatch service.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	Quota        Quota        `yaml:"quota"`
	Providers    Providers    `yaml:"providers"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Memory       Memory       `yaml:"memory"`
	Cache        Cache        `yaml:"cache"`
	Breaker      Breaker      `yaml:"breaker"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Telemetry    Telemetry    `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Quota holds admission control configuration. Limits maps quota keys to
// request ceilings; a key absent from the map is unlimited.
type Quota struct {
	PersistencePath  string         `yaml:"persistence_path"`
	WarnThresholdPct float64        `yaml:"warn_threshold_pct"`
	Limits           map[string]int `yaml:"limits"`
}

// Providers holds per-platform adapter configuration.
type Providers struct {
	ChatGPT    HostedProvider `yaml:"chatgpt"`
	Gemini     HostedProvider `yaml:"gemini"`
	ClaudeCode CLIProvider    `yaml:"claude_code"`
}

// HostedProvider configures an HTTP-backed provider.
type HostedProvider struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// CLIProvider configures a local subprocess-backed provider.
type CLIProvider struct {
	Binary  string `yaml:"binary"`
	WorkDir string `yaml:"work_dir"`
}

// Orchestrator holds task execution configuration.
type Orchestrator struct {
	MaxParallel    int           `yaml:"max_parallel"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Memory holds external memory store configuration. An empty Path keeps
// handoff content in process memory only.
type Memory struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// Cache holds the in-process handoff content cache configuration.
type Cache struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// Breaker holds circuit breaker configuration for hosted provider calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Postgres holds the optional chain/usage ledger configuration.
// An empty DSN disables the ledger entirely.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the optional lifecycle event publisher configuration.
// An empty URL disables event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "dispatch",
		},
		Quota: Quota{
			WarnThresholdPct: 80,
			Limits: map[string]int{
				"gemini_free":         250,
				"claude_subscription": 50,
			},
		},
		Providers: Providers{
			ChatGPT: HostedProvider{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Gemini: HostedProvider{
				BaseURL: "https://generativelanguage.googleapis.com/v1beta",
				Model:   "gemini-2.0-flash",
			},
			ClaudeCode: CLIProvider{
				Binary: "claude",
			},
		},
		Orchestrator: Orchestrator{
			MaxParallel:    4,
			DefaultTimeout: 5 * time.Minute,
		},
		Memory: Memory{
			Collection: "handoffs",
		},
		Cache: Cache{
			MaxBytes: 64 << 20, // 64 MB
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4317",
		},
	}
}
