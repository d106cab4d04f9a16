package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envBackendURL, "")
	t.Setenv(envAPIKey, "")

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Heartbeat != defaultHeartbeat || cfg.ReconnectBase != defaultReconnect {
		t.Fatalf("intervals = %v/%v, want defaults", cfg.Heartbeat, cfg.ReconnectBase)
	}

	wantSession, err := expandPath(defaultSessionPath)
	if err != nil {
		t.Fatalf("expandPath(defaultSessionPath) returned error: %v", err)
	}
	if cfg.SessionPath != wantSession {
		t.Fatalf("SessionPath = %q, want %q", cfg.SessionPath, wantSession)
	}
	if !strings.HasPrefix(cfg.LogFile, home) {
		t.Fatalf("LogFile = %q, want it under HOME %q", cfg.LogFile, home)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate returned nil error for empty config")
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envBackendURL, "")
	t.Setenv(envAPIKey, "")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
backend_url = "  https://abc.supabase.co/  "
api_key = " anon "
session_path = "  ~/clan/session.toml  "
log_file = "~/clan/clanhub.log"
heartbeat_seconds = 10
reconnect_seconds = 5
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL != "https://abc.supabase.co/" || cfg.APIKey != "anon" {
		t.Fatalf("backend = %q key = %q", cfg.BackendURL, cfg.APIKey)
	}
	if cfg.RealtimeURL != "https://abc.supabase.co/realtime/v1" {
		t.Fatalf("RealtimeURL = %q, want derived from backend", cfg.RealtimeURL)
	}
	if cfg.SessionPath != filepath.Join(home, "clan", "session.toml") {
		t.Fatalf("SessionPath = %q", cfg.SessionPath)
	}
	if cfg.LogFile != filepath.Join(home, "clan", "clanhub.log") {
		t.Fatalf("LogFile = %q", cfg.LogFile)
	}
	if cfg.Heartbeat != 10*time.Second || cfg.ReconnectBase != 5*time.Second {
		t.Fatalf("intervals = %v/%v", cfg.Heartbeat, cfg.ReconnectBase)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestLoad_ExplicitRealtimeAndEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envBackendURL, "http://127.0.0.1:54321")
	t.Setenv(envAPIKey, "env-key")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
backend_url = "https://ignored.example"
api_key = "file-key"
realtime_url = "wss://rt.example/socket"
heartbeat_seconds = -1
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL != "http://127.0.0.1:54321" || cfg.APIKey != "env-key" {
		t.Fatalf("env overrides not applied: %#v", cfg)
	}
	if cfg.RealtimeURL != "wss://rt.example/socket" {
		t.Fatalf("RealtimeURL = %q", cfg.RealtimeURL)
	}
	if cfg.Heartbeat != defaultHeartbeat {
		t.Fatalf("Heartbeat = %v, want default for non-positive value", cfg.Heartbeat)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("backend_url = "), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("Load error = %v, want parse config error", err)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("  ~/x/y  ")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Fatalf("expandPath = %q", got)
	}
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath blank returned nil error")
	}
}
