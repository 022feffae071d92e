package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Engine.Workers != 10 {
		t.Errorf("expected 10 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.DefaultTimeout != 5*time.Minute {
		t.Errorf("unexpected default timeout %s", cfg.Engine.DefaultTimeout)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("unexpected max retries %d", cfg.Engine.MaxRetries)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  workers: 4
  default_timeout: 2m
server:
  addr: ":9090"
store:
  path: /tmp/tasks.db
  required: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.DefaultTimeout != 2*time.Minute {
		t.Errorf("unexpected timeout %s", cfg.Engine.DefaultTimeout)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if !cfg.Store.Required {
		t.Error("expected store.required true")
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("expected default max retries, got %d", cfg.Engine.MaxRetries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOOPS_WORKERS", "2")
	t.Setenv("AUTOOPS_PLANNER_MODEL", "local-model")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Engine.Workers != 2 {
		t.Errorf("env override not applied, workers = %d", cfg.Engine.Workers)
	}
	if cfg.Planner.Model != "local-model" {
		t.Errorf("env override not applied, model = %q", cfg.Planner.Model)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  workers: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
