package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default :8080", cfg.Server.Addr)
	}
	if cfg.Sync.PageSize != 100 {
		t.Errorf("pageSize = %d, want default 100", cfg.Sync.PageSize)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("server:\n  addr: \":9090\"\nsync:\n  pageSize: 25\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Sync.PageSize != 25 {
		t.Errorf("pageSize = %d, want 25", cfg.Sync.PageSize)
	}
	// Untouched sections keep their defaults
	if cfg.Data.DBPath != "data/mailcore.db" {
		t.Errorf("dbPath = %q, want default", cfg.Data.DBPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MAILCORE_ADDR", ":7070")
	t.Setenv("MAILCORE_NATS_DISABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want env override :7070", cfg.Server.Addr)
	}
	if !cfg.NATS.Disabled {
		t.Error("nats.disabled = false, want env override true")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [broken"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load of malformed YAML succeeded, want error")
	}
}
