// Package config loads server settings from an optional YAML file with
// INTERLOCK_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultFile = "interlock.yaml"

// Config is the resolved server configuration.
type Config struct {
	DataRoot string
	Listen   string
	Socket   string

	DefaultLockTTL   time.Duration
	MaxLocksPerAgent int
	SweepInterval    time.Duration

	RetentionMaxEvents int
	RetentionMaxAge    time.Duration

	Verbose bool
}

type fileConfig struct {
	DataRoot              string `yaml:"data_root"`
	Listen                string `yaml:"listen"`
	SocketPath            string `yaml:"socket_path"`
	DefaultLockTTLMinutes int    `yaml:"default_lock_ttl_minutes"`
	MaxLocksPerAgent      int    `yaml:"max_locks_per_agent"`
	SweepIntervalSeconds  int    `yaml:"sweep_interval_seconds"`
	SessionRetention      struct {
		MaxEvents   int `yaml:"max_events"`
		MaxAgeHours int `yaml:"max_age_hours"`
	} `yaml:"session_retention"`
	LogVerbose *bool `yaml:"log_verbose"`
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() Config {
	return Config{
		DataRoot:           filepath.Join(".", "interlock-data"),
		Listen:             "127.0.0.1:7420",
		Socket:             "",
		DefaultLockTTL:     30 * time.Minute,
		MaxLocksPerAgent:   32,
		SweepInterval:      time.Minute,
		RetentionMaxEvents: 500,
		RetentionMaxAge:    7 * 24 * time.Hour,
	}
}

// ResolvePath picks the config file: INTERLOCK_CONFIG if set, else
// ./interlock.yaml.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_CONFIG")); v != "" {
		return v
	}
	return filepath.Join(".", defaultFile)
}

// LoadFromEnv loads the config file named by the environment (a missing
// file is fine) and applies env overrides.
func LoadFromEnv() (Config, error) {
	return Load(ResolvePath())
}

// Load reads path, falling back to defaults when it does not exist, and
// layers INTERLOCK_* overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
			applyFile(&cfg, fc)
		}
	}
	applyEnv(&cfg)

	if strings.TrimSpace(cfg.DataRoot) == "" {
		return Config{}, fmt.Errorf("data_root must not be empty")
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if v := strings.TrimSpace(fc.DataRoot); v != "" {
		cfg.DataRoot = v
	}
	if v := strings.TrimSpace(fc.Listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(fc.SocketPath); v != "" {
		cfg.Socket = v
	}
	if fc.DefaultLockTTLMinutes > 0 {
		cfg.DefaultLockTTL = time.Duration(fc.DefaultLockTTLMinutes) * time.Minute
	}
	if fc.MaxLocksPerAgent > 0 {
		cfg.MaxLocksPerAgent = fc.MaxLocksPerAgent
	}
	if fc.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(fc.SweepIntervalSeconds) * time.Second
	}
	if fc.SessionRetention.MaxEvents > 0 {
		cfg.RetentionMaxEvents = fc.SessionRetention.MaxEvents
	}
	if fc.SessionRetention.MaxAgeHours > 0 {
		cfg.RetentionMaxAge = time.Duration(fc.SessionRetention.MaxAgeHours) * time.Hour
	}
	if fc.LogVerbose != nil {
		cfg.Verbose = *fc.LogVerbose
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_DATA_ROOT")); v != "" {
		cfg.DataRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_LISTEN")); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_SOCKET")); v != "" {
		cfg.Socket = v
	}
	if v, ok := envInt("INTERLOCK_LOCK_TTL_MINUTES"); ok && v > 0 {
		cfg.DefaultLockTTL = time.Duration(v) * time.Minute
	}
	if v, ok := envInt("INTERLOCK_MAX_LOCKS"); ok && v > 0 {
		cfg.MaxLocksPerAgent = v
	}
	if v, ok := envInt("INTERLOCK_SWEEP_SECONDS"); ok && v > 0 {
		cfg.SweepInterval = time.Duration(v) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("INTERLOCK_VERBOSE")); v != "" {
		cfg.Verbose = v == "1" || strings.EqualFold(v, "true")
	}
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WriteStarter writes a commented starter config. It refuses to overwrite
// an existing file.
func WriteStarter(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	starter := `# interlock server configuration
data_root: ./interlock-data
listen: 127.0.0.1:7420
# socket_path: /tmp/interlock.sock
default_lock_ttl_minutes: 30
max_locks_per_agent: 32
sweep_interval_seconds: 60
session_retention:
  max_events: 500
  max_age_hours: 168
log_verbose: false
`
	if err := os.WriteFile(path, []byte(starter), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
