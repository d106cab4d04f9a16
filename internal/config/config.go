package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the connection and file settings for clanhub.
type Config struct {
	BackendURL    string
	APIKey        string
	RealtimeURL   string
	SessionPath   string
	LogFile       string
	Heartbeat     time.Duration
	ReconnectBase time.Duration
}

const (
	defaultConfigPath  = "~/.config/clanhub/config.toml"
	defaultSessionPath = "~/.local/state/clanhub/session.toml"
	defaultLogFile     = "~/.local/state/clanhub/clanhub.log"
	defaultHeartbeat   = 25 * time.Second
	defaultReconnect   = 2 * time.Second

	envBackendURL = "CLANHUB_BACKEND_URL"
	envAPIKey     = "CLANHUB_API_KEY"
)

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return defaultConfigPath
}

// Load reads the config file, falling back to defaults when it is missing.
// CLANHUB_BACKEND_URL and CLANHUB_API_KEY override the file.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SessionPath:   mustExpand(defaultSessionPath),
		LogFile:       mustExpand(defaultLogFile),
		Heartbeat:     defaultHeartbeat,
		ReconnectBase: defaultReconnect,
	}

	file, err := os.Open(resolved)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		cfg.applyEnv()
		cfg.deriveRealtime()
		return cfg, nil
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		BackendURL       string `toml:"backend_url"`
		APIKey           string `toml:"api_key"`
		RealtimeURL      string `toml:"realtime_url"`
		SessionPath      string `toml:"session_path"`
		LogFile          string `toml:"log_file"`
		HeartbeatSeconds int    `toml:"heartbeat_seconds"`
		ReconnectSeconds int    `toml:"reconnect_seconds"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.BackendURL = strings.TrimSpace(raw.BackendURL)
	cfg.APIKey = strings.TrimSpace(raw.APIKey)
	cfg.RealtimeURL = strings.TrimSpace(raw.RealtimeURL)
	if p := strings.TrimSpace(raw.SessionPath); p != "" {
		cfg.SessionPath = mustExpand(p)
	}
	if p := strings.TrimSpace(raw.LogFile); p != "" {
		cfg.LogFile = mustExpand(p)
	}
	if raw.HeartbeatSeconds > 0 {
		cfg.Heartbeat = time.Duration(raw.HeartbeatSeconds) * time.Second
	}
	if raw.ReconnectSeconds > 0 {
		cfg.ReconnectBase = time.Duration(raw.ReconnectSeconds) * time.Second
	}

	cfg.applyEnv()
	cfg.deriveRealtime()
	return cfg, nil
}

// Validate reports settings that must be present before connecting.
func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is not set"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api_key is not set"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envBackendURL)); v != "" {
		c.BackendURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envAPIKey)); v != "" {
		c.APIKey = v
	}
}

// deriveRealtime points the realtime endpoint at the backend when unset.
func (c *Config) deriveRealtime() {
	if c.RealtimeURL == "" && c.BackendURL != "" {
		c.RealtimeURL = strings.TrimRight(c.BackendURL, "/") + "/realtime/v1"
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
