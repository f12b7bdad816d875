package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELAY_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServerURL != "ws://127.0.0.1:8787/agent/ws" {
		t.Fatalf("unexpected default server url: %q", cfg.ServerURL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log level: %q", cfg.LogLevel)
	}
	if cfg.HealthTimeoutSeconds <= cfg.HeartbeatSeconds {
		t.Fatalf("health timeout must exceed heartbeat: %+v", cfg)
	}
	if cfg.WorkspaceRoot == "" {
		t.Fatal("workspace root should default to the working directory")
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
server_url = "wss://file.example/ws"
token = "from-file"
heartbeat_seconds = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("RELAY_CONFIG", path)
	t.Setenv("RELAY_TOKEN", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServerURL != "wss://file.example/ws" {
		t.Fatalf("file value not applied: %q", cfg.ServerURL)
	}
	if cfg.Token != "from-env" {
		t.Fatalf("env should override file, got %q", cfg.Token)
	}
	if cfg.HeartbeatSeconds != 10 {
		t.Fatalf("heartbeat from file not applied: %d", cfg.HeartbeatSeconds)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("server_url = ["), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("RELAY_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("malformed config should fail to load")
	}
}
