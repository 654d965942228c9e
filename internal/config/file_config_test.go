package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func baseConfig() *Config {
	return &Config{
		MaxConcurrentTasks: 5,
		RetryAttempts:      3,
		SessionTTL:         24 * time.Hour,
		CodeMode:           "interactive",
		HTTPAddr:           ":8080",
	}
}

func TestLoadFileConfigTOML(t *testing.T) {
	path := writeTempConfig(t, "hostscrape.toml", `
dsn = "postgres://localhost/hostscrape"

[scheduler]
max_concurrent_tasks = 2
category_delay = "3s"

[browser]
headless = false
retry_attempts = 5
code_mode = "service"
code_wait = "45s"

[session]
ttl = "12h"
sweep_schedule = "0 * * * *"

[http]
addr = ":9090"
`)

	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	cfg := baseConfig()
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if cfg.DatabaseURL != "postgres://localhost/hostscrape" {
		t.Fatalf("unexpected dsn %q", cfg.DatabaseURL)
	}
	if cfg.MaxConcurrentTasks != 2 {
		t.Fatalf("expected concurrency 2, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.CategoryDelay != 3*time.Second {
		t.Fatalf("expected 3s category delay, got %v", cfg.CategoryDelay)
	}
	if cfg.Headless {
		t.Fatal("expected headless disabled")
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("expected 5 retry attempts, got %d", cfg.RetryAttempts)
	}
	if cfg.CodeMode != "service" || cfg.CodeWait != 45*time.Second {
		t.Fatalf("unexpected code settings %q %v", cfg.CodeMode, cfg.CodeWait)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("expected 12h TTL, got %v", cfg.SessionTTL)
	}
	if cfg.SweepSchedule != "0 * * * *" {
		t.Fatalf("unexpected sweep schedule %q", cfg.SweepSchedule)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("unexpected http addr %q", cfg.HTTPAddr)
	}
}

func TestLoadFileConfigYAML(t *testing.T) {
	path := writeTempConfig(t, "hostscrape.yaml", `
dsn: postgres://localhost/hostscrape
browser:
  nav_timeout: 20s
  step_timeout: 5s
`)

	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	cfg := baseConfig()
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if cfg.NavTimeout != 20*time.Second {
		t.Fatalf("expected 20s nav timeout, got %v", cfg.NavTimeout)
	}
	if cfg.StepTimeout != 5*time.Second {
		t.Fatalf("expected 5s step timeout, got %v", cfg.StepTimeout)
	}
}

func TestLoadFileConfigRejectsUnknownExtension(t *testing.T) {
	path := writeTempConfig(t, "hostscrape.json", `{}`)
	if _, err := LoadFileConfig(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestApplyFileConfigInvalidDuration(t *testing.T) {
	cfg := baseConfig()
	err := ApplyFileConfig(cfg, &FileConfig{Session: SessionFileConfig{TTL: "soon"}})
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestResolveConfigPathFlag(t *testing.T) {
	path, err := ResolveConfigPath([]string{"--config", "custom.toml"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if path != "custom.toml" {
		t.Fatalf("expected custom.toml, got %q", path)
	}
}

func TestResolveConfigPathMissingValue(t *testing.T) {
	if _, err := ResolveConfigPath([]string{"--config"}); err == nil {
		t.Fatal("expected error for missing --config value")
	}
}
