// Package config loads client settings from a TOML file with
// environment variable overrides. Env always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const configFileName = "config.toml"

type Config struct {
	// ServerURL is the orchestrator websocket endpoint.
	ServerURL string `toml:"server_url"`
	// APIBaseURL is the orchestrator HTTP base used for the
	// prepare-run call. Empty disables it.
	APIBaseURL string `toml:"api_base_url"`
	// Token is passed opaquely as a bearer token.
	Token string `toml:"token"`

	LogLevel      string `toml:"log_level"`
	WorkspaceRoot string `toml:"workspace_root"`
	// DBPath is the SQLite file backing message history. Empty keeps
	// history in memory only.
	DBPath string `toml:"db_path"`

	HeartbeatSeconds     int `toml:"heartbeat_seconds"`
	HealthTimeoutSeconds int `toml:"health_timeout_seconds"`
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
}

func defaults() Config {
	return Config{
		ServerURL:            "ws://127.0.0.1:8787/agent/ws",
		APIBaseURL:           "http://127.0.0.1:8787",
		LogLevel:             "info",
		HeartbeatSeconds:     30,
		HealthTimeoutSeconds: 75,
		MaxReconnectAttempts: 10,
	}
}

// Load reads the config file (RELAY_CONFIG or the default location),
// then applies env overrides. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("RELAY_CONFIG"))
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "relay", configFileName)
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	setString(&cfg.ServerURL, "RELAY_SERVER_URL")
	setString(&cfg.APIBaseURL, "RELAY_API_BASE_URL")
	setString(&cfg.Token, "RELAY_TOKEN")
	setString(&cfg.LogLevel, "RELAY_LOG_LEVEL")
	setString(&cfg.WorkspaceRoot, "RELAY_WORKSPACE_ROOT")
	setString(&cfg.DBPath, "RELAY_DB_PATH")
	setInt(&cfg.HeartbeatSeconds, "RELAY_HEARTBEAT_SECONDS")
	setInt(&cfg.HealthTimeoutSeconds, "RELAY_HEALTH_TIMEOUT_SECONDS")
	setInt(&cfg.MaxReconnectAttempts, "RELAY_MAX_RECONNECT_ATTEMPTS")
}

func normalize(cfg *Config) {
	if cfg.WorkspaceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkspaceRoot = wd
		}
	}
	if cfg.DBPath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.DBPath = filepath.Join(dir, "relay", "history.db")
		}
	}
	if cfg.HeartbeatSeconds < 1 {
		cfg.HeartbeatSeconds = 30
	}
	if cfg.HealthTimeoutSeconds <= cfg.HeartbeatSeconds {
		cfg.HealthTimeoutSeconds = cfg.HeartbeatSeconds*2 + 15
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 10
	}
}
