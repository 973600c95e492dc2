package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 4444 {
		t.Errorf("expected port=4444, got %d", cfg.Port)
	}
	if cfg.DebugStub != "gdbserver" {
		t.Errorf("expected debug_stub=gdbserver, got %s", cfg.DebugStub)
	}
	if cfg.SessionCap != 0 {
		t.Errorf("expected session_cap=0 (unlimited), got %d", cfg.SessionCap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadFileMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiond.yaml")
	content := "port: 9000\nsession_cap: 10\nmax_total_bytes: 1073741824\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port=9000, got %d", cfg.Port)
	}
	if cfg.SessionCap != 10 {
		t.Errorf("expected session_cap=10, got %d", cfg.SessionCap)
	}
	if cfg.MaxTotalBytes != 1<<30 {
		t.Errorf("expected max_total_bytes=%d, got %d", int64(1)<<30, cfg.MaxTotalBytes)
	}
	// Fields not present in the file keep their defaults.
	if cfg.DebugStub != "gdbserver" {
		t.Errorf("expected debug_stub to keep default gdbserver, got %s", cfg.DebugStub)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error loading a nonexistent file")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port=0")
	}
}

func TestValidateRejectsGroupWithoutUser(t *testing.T) {
	cfg := Default()
	cfg.Group = "nogroup"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for group set without user")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for an unrecognized log level")
	}
}
