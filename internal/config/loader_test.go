package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Quota.Limits["gemini_free"] != 250 {
		t.Fatalf("expected default gemini_free limit 250, got %d", cfg.Quota.Limits["gemini_free"])
	}
	if cfg.Orchestrator.DefaultTimeout != 5*time.Minute {
		t.Fatalf("expected 5m default timeout, got %v", cfg.Orchestrator.DefaultTimeout)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	yamlContent := `
server:
  port: "9090"
quota:
  warn_threshold_pct: 90
  limits:
    gemini_free: 10
providers:
  claude_code:
    binary: /usr/local/bin/claude
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Quota.WarnThresholdPct != 90 {
		t.Fatalf("expected warn threshold 90, got %v", cfg.Quota.WarnThresholdPct)
	}
	if cfg.Quota.Limits["gemini_free"] != 10 {
		t.Fatalf("expected gemini_free limit 10, got %d", cfg.Quota.Limits["gemini_free"])
	}
	if cfg.Providers.ClaudeCode.Binary != "/usr/local/bin/claude" {
		t.Fatalf("unexpected claude binary %s", cfg.Providers.ClaudeCode.Binary)
	}
	// Untouched sections keep defaults.
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level, got %s", cfg.Logging.Level)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DISPATCH_PORT", "7070")
	t.Setenv("DISPATCH_BREAKER_TIMEOUT", "45s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Breaker.Timeout != 45*time.Second {
		t.Fatalf("expected 45s breaker timeout, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Providers.ChatGPT.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.Providers.ChatGPT.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-numeric port", func(c *Config) { c.Server.Port = "http" }},
		{"threshold over 100", func(c *Config) { c.Quota.WarnThresholdPct = 150 }},
		{"negative limit", func(c *Config) { c.Quota.Limits["x"] = -1 }},
		{"zero max parallel", func(c *Config) { c.Orchestrator.MaxParallel = 0 }},
		{"zero default timeout", func(c *Config) { c.Orchestrator.DefaultTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
