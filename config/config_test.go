package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
  "llm": {
    "providers": {"primary": {"type": "openai", "api_key": "k", "model": "gpt-4o-mini"}},
    "routing": {"planning": "primary"}
  },
  "storage": {
    "redis": {"host": "localhost", "port": "6379"},
    "postgres": {"host": "localhost", "port": "5432", "dbname": "errand"}
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg := LoadConfig(path)

	if cfg.Server.Address != ":8080" {
		t.Fatalf("server address = %q", cfg.Server.Address)
	}
	if !cfg.Server.RunStreamEnabled {
		t.Fatal("expected run stream enabled by default")
	}
	if cfg.Orchestration.MaxIterations != 10 || cfg.Orchestration.StepConcurrency != 4 {
		t.Fatalf("orchestration = %+v", cfg.Orchestration)
	}
	if cfg.Orchestration.ToolTimeout != 30*time.Second || cfg.Orchestration.StepBackoff != 250*time.Millisecond {
		t.Fatalf("timeouts = %+v", cfg.Orchestration)
	}
	if cfg.Schedule.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.Schedule.PollInterval)
	}

	entry, ok := cfg.LLM.Providers["primary"]
	if !ok || entry.Type != "openai" || entry.Model != "gpt-4o-mini" {
		t.Fatalf("providers = %+v", cfg.LLM.Providers)
	}
	if cfg.LLM.Routing.Planning != "primary" {
		t.Fatalf("routing = %+v", cfg.LLM.Routing)
	}
}

func TestConfigValidation(t *testing.T) {
	if err := (TelemetryConfig{Enabled: true}).Validate(); err == nil {
		t.Fatal("expected metrics port requirement")
	}
	if err := (TelemetryConfig{Enabled: true, MetricsPort: 9090}).Validate(); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := (RedisConfig{Host: "localhost"}).Validate(); err == nil {
		t.Fatal("expected redis port requirement")
	}
	if err := (PostgresConfig{URL: "postgres://u:p@h:5432/db"}).Validate(); err != nil {
		t.Fatalf("postgres url form: %v", err)
	}
	if err := (PostgresConfig{Host: "localhost", Port: "5432"}).Validate(); err == nil {
		t.Fatal("expected dbname requirement")
	}
}
