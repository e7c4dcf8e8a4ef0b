package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "dispatch.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DISPATCH_PORT")
	setString(&cfg.Server.CORSOrigin, "DISPATCH_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "DISPATCH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DISPATCH_LOG_SERVICE")
	setString(&cfg.Quota.PersistencePath, "DISPATCH_QUOTA_PATH")
	setFloat64(&cfg.Quota.WarnThresholdPct, "DISPATCH_QUOTA_WARN_PCT")
	setString(&cfg.Providers.ChatGPT.BaseURL, "DISPATCH_OPENAI_URL")
	setString(&cfg.Providers.ChatGPT.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Providers.ChatGPT.Model, "DISPATCH_OPENAI_MODEL")
	setString(&cfg.Providers.Gemini.BaseURL, "DISPATCH_GEMINI_URL")
	setString(&cfg.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Providers.Gemini.Model, "DISPATCH_GEMINI_MODEL")
	setString(&cfg.Providers.ClaudeCode.Binary, "DISPATCH_CLAUDE_BINARY")
	setString(&cfg.Providers.ClaudeCode.WorkDir, "DISPATCH_CLAUDE_WORKDIR")
	setInt(&cfg.Orchestrator.MaxParallel, "DISPATCH_MAX_PARALLEL")
	setDuration(&cfg.Orchestrator.DefaultTimeout, "DISPATCH_DEFAULT_TIMEOUT")
	setString(&cfg.Memory.Path, "DISPATCH_MEMORY_PATH")
	setString(&cfg.Memory.Collection, "DISPATCH_MEMORY_COLLECTION")
	setInt64(&cfg.Cache.MaxBytes, "DISPATCH_CACHE_MAX_BYTES")
	setInt(&cfg.Breaker.MaxFailures, "DISPATCH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DISPATCH_BREAKER_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DISPATCH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DISPATCH_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.Telemetry.Enabled, "DISPATCH_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "DISPATCH_OTLP_ENDPOINT")
}

// validate rejects configurations that cannot work at runtime.
func validate(cfg *Config) error {
	if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		return fmt.Errorf("server.port %q is not numeric", cfg.Server.Port)
	}
	if cfg.Quota.WarnThresholdPct < 0 || cfg.Quota.WarnThresholdPct > 100 {
		return fmt.Errorf("quota.warn_threshold_pct %v out of range [0,100]", cfg.Quota.WarnThresholdPct)
	}
	for key, limit := range cfg.Quota.Limits {
		if limit < 0 {
			return fmt.Errorf("quota.limits[%s] must be >= 0, got %d", key, limit)
		}
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return fmt.Errorf("orchestrator.max_parallel must be >= 1, got %d", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Orchestrator.DefaultTimeout <= 0 {
		return fmt.Errorf("orchestrator.default_timeout must be positive, got %v", cfg.Orchestrator.DefaultTimeout)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return fmt.Errorf("breaker.max_failures must be >= 1, got %d", cfg.Breaker.MaxFailures)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
