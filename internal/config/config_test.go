package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadTierOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trust.Tiers.Suspicious = 0.9
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected tier ordering error")
	}
}

func TestValidateRejectsStepLargerThanWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feature.Step = 20 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected step/window error")
	}
}

func TestValidateRejectsAIWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threat.AI.Enabled = true
	cfg.Threat.AI.Endpoint = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ai endpoint error")
	}
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bioguard.yaml")
	content := []byte("log_level: debug\ntrust:\n  alpha_high: 0.4\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Trust.AlphaHigh != 0.4 {
		t.Fatalf("alpha high: %v", cfg.Trust.AlphaHigh)
	}
	// Untouched sections keep their defaults.
	if cfg.Feature.Window != 10*time.Second {
		t.Fatalf("window default: %v", cfg.Feature.Window)
	}
	if cfg.Decision.Hysteresis != 3 {
		t.Fatalf("hysteresis default: %d", cfg.Decision.Hysteresis)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bioguard.json")
	content := []byte(`{"log_level":"warn","api":{"enabled":true,"addr":":9999"}}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.API.Addr != ":9999" {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := []byte("trust:\n  tiers:\n    trusted: 0.2\n    elevated: 0.5\n    suspicious: 0.8\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bioguard.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.LogLevel = "debug"
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().LogLevel != "debug" {
		t.Fatalf("update not applied")
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LogLevel != "debug" {
		t.Fatalf("update not persisted: %s", reloaded.LogLevel)
	}
}
