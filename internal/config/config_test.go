package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log_level: debug
detection:
  dedupe_window: 2s
rules:
  - id: brute_force_login
    name: Brute-force login
    enabled: true
    event_type: login
    status: failed
    group_by: [source_ip]
    threshold: 5
    window: 10m
    cooldown: 30m
    severity: high
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Detection.DedupeWindow.Std() != 2*time.Second {
		t.Fatalf("dedupe window: %s", cfg.Detection.DedupeWindow)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Window.Std() != 10*time.Minute {
		t.Fatalf("rules: %+v", cfg.Rules)
	}
	// Unset sections keep their defaults.
	if cfg.Ingest.ChannelBuffer != 10000 {
		t.Fatalf("channel buffer default: %d", cfg.Ingest.ChannelBuffer)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"log_level":"warn","blocklist":{"enabled":true,"source_ips":["203.0.113.9"],"cooldown":"1h"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Blocklist.Enabled || cfg.Blocklist.Cooldown.Std() != time.Hour {
		t.Fatalf("blocklist: %+v", cfg.Blocklist)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "detection:\n  dedupe_window: soon\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestManagerReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("initial: %s", m.Get().LogLevel)
	}

	// mtime granularity on some filesystems is one second
	time.Sleep(1100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("needs reload: %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("reloaded: %s", cfg.LogLevel)
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get() == nil {
		t.Fatalf("static manager should serve defaults")
	}
	if needs, err := m.NeedsReload(); needs || err != nil {
		t.Fatalf("static manager never needs reload")
	}
}
