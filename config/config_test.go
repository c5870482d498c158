package config

import (
	"os"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Port != 6380 {
		t.Errorf("expected default port 6380, got %d", cfg.Port)
	}
	if cfg.MaxMemoryPolicy != "noeviction" {
		t.Errorf("expected default maxmemory_policy noeviction, got %s", cfg.MaxMemoryPolicy)
	}
	if cfg.TLSPort != 0 {
		t.Errorf("expected TLS disabled by default, got port %d", cfg.TLSPort)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	os.Setenv("EMBERKV_PORT", "7000")
	os.Setenv("EMBERKV_MAXMEMORY_POLICY", "allkeys-lru")
	defer os.Unsetenv("EMBERKV_PORT")
	defer os.Unsetenv("EMBERKV_MAXMEMORY_POLICY")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Port != 7000 {
		t.Errorf("expected env override port 7000, got %d", cfg.Port)
	}
	if cfg.MaxMemoryPolicy != "allkeys-lru" {
		t.Errorf("expected env override policy allkeys-lru, got %s", cfg.MaxMemoryPolicy)
	}
}

func TestLoadFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/emberkv.yaml"
	yaml := "server:\n  port: 9999\nmemory:\n  oom:\n    maxmemory_policy: volatile-lfu\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}
	os.Setenv("EMBERKV_PORT", "7000")
	defer os.Unsetenv("EMBERKV_PORT")

	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected file override port 9999, got %d", cfg.Port)
	}
	if cfg.MaxMemoryPolicy != "volatile-lfu" {
		t.Errorf("expected file override policy volatile-lfu, got %s", cfg.MaxMemoryPolicy)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg := Default()
	if err := cfg.LoadFile("/nonexistent/path/emberkv.yaml"); err != nil {
		t.Fatalf("expected missing config file to be a no-op, got: %v", err)
	}
}

func TestManagerPersistsOverrideAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	mgr, err := NewManager(dir, cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if err := mgr.Set("memory.oom.maxmemory", "104857600"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.MaxMemory != 104857600 {
		t.Errorf("expected in-memory config updated immediately, got %d", cfg.MaxMemory)
	}
	mgr.Close()

	reopened := Default()
	mgr2, err := NewManager(dir, reopened)
	if err != nil {
		t.Fatalf("reopen NewManager failed: %v", err)
	}
	defer mgr2.Close()

	if reopened.MaxMemory != 104857600 {
		t.Errorf("expected persisted override to survive reopen, got %d", reopened.MaxMemory)
	}
}

func TestManagerRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, Default())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Set("server.does_not_exist", "1"); err == nil {
		t.Error("expected error for unrecognised config key")
	}
}
