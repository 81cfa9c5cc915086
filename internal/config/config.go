// Package config holds two distinct things kept separate: the domain
// tup.config format parsed by ParseTupConfig, and the ambient process
// configuration (store path, log level, lock retry/backoff, worker pool
// size) loaded from a YAML file with an env overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is tupcore's ambient process configuration.
type Config struct {
	Lock  LockConfig  `yaml:"lock"`
	Log   LogConfig   `yaml:"log"`
	Build BuildConfig `yaml:"build"`
}

// LockConfig controls internal/lock.Acquire's retry behavior.
type LockConfig struct {
	Retry   int           `yaml:"retry"`
	Backoff time.Duration `yaml:"backoff"`
}

// LogConfig controls the structured logger's verbosity and destination.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// BuildConfig controls the default store path and worker pool sizing.
type BuildConfig struct {
	StorePath  string `yaml:"store_path"`
	WorkerPool int    `yaml:"worker_pool"`
	NoSync     bool   `yaml:"no_sync"`
}

// DefaultConfig returns tupcore's built-in defaults, overridden by any
// file and then any environment variable found by Load.
func DefaultConfig() *Config {
	return &Config{
		Lock: LockConfig{
			Retry:   5,
			Backoff: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
		Build: BuildConfig{
			StorePath:  ".tup/db",
			WorkerPool: 4,
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if storePath := getenv("TUPCORE_STORE_PATH"); storePath != "" {
		cfg.Build.StorePath = storePath
	}
	if level := getenv("TUPCORE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tupcore", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tupcore", "config.yaml")
}
