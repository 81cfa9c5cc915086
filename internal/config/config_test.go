package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Lock.Retry != 5 {
		t.Errorf("DefaultConfig() Lock.Retry = %d, want 5", cfg.Lock.Retry)
	}
	if cfg.Lock.Backoff != 200*time.Millisecond {
		t.Errorf("DefaultConfig() Lock.Backoff = %v, want %v", cfg.Lock.Backoff, 200*time.Millisecond)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Build.StorePath != ".tup/db" {
		t.Errorf("DefaultConfig() Build.StorePath = %q, want %q", cfg.Build.StorePath, ".tup/db")
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
lock:
  retry: 10
  backoff: 1s
log:
  level: debug
  file: /var/log/tupcore.log
build:
  store_path: /tmp/tup.db
  worker_pool: 8
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Lock.Retry != 10 {
		t.Errorf("LoadWithEnv() Lock.Retry = %d, want 10", cfg.Lock.Retry)
	}
	if cfg.Lock.Backoff != time.Second {
		t.Errorf("LoadWithEnv() Lock.Backoff = %v, want %v", cfg.Lock.Backoff, time.Second)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Build.StorePath != "/tmp/tup.db" {
		t.Errorf("LoadWithEnv() Build.StorePath = %q, want %q", cfg.Build.StorePath, "/tmp/tup.db")
	}
	if cfg.Build.WorkerPool != 8 {
		t.Errorf("LoadWithEnv() Build.WorkerPool = %d, want 8", cfg.Build.WorkerPool)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `build:
  store_path: /file/path/db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":   tmpDir,
		"TUPCORE_STORE_PATH": "/env/path/db",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Build.StorePath != "/env/path/db" {
		t.Errorf("LoadWithEnv() Build.StorePath = %q, want %q (env override)", cfg.Build.StorePath, "/env/path/db")
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Lock.Retry != 5 {
		t.Errorf("LoadWithEnv() without file should use default Lock.Retry, got %d", cfg.Lock.Retry)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
lock: [this is invalid yaml
build:
  worker_pool: not a number
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "tupcore", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "tupcore", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "tupcore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
lock:
  retry: 1
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Lock.Retry != 1 {
		t.Errorf("LoadWithEnv() Lock.Retry = %d, want 1", cfg.Lock.Retry)
	}
	if cfg.Build.StorePath != ".tup/db" {
		t.Errorf("LoadWithEnv() Build.StorePath = %q, want %q (default)", cfg.Build.StorePath, ".tup/db")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}

func TestParseTupConfig(t *testing.T) {
	t.Parallel()
	input := `# comment
CFLAGS=-O2 -Wall
CONFIG_DEBUG=1

CONFIG_ARCH=x86_64
`
	parsed, err := ParseTupConfig(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseTupConfig() error: %v", err)
	}
	if parsed["CFLAGS"] != "-O2 -Wall" {
		t.Errorf("CFLAGS = %q, want %q", parsed["CFLAGS"], "-O2 -Wall")
	}
	if parsed["CONFIG_DEBUG"] != "1" {
		t.Errorf("CONFIG_DEBUG = %q, want %q", parsed["CONFIG_DEBUG"], "1")
	}

	scope := ConfigScope(parsed)
	if scope["DEBUG"] != "1" {
		t.Errorf("scope[DEBUG] = %q, want %q", scope["DEBUG"], "1")
	}
	if scope["ARCH"] != "x86_64" {
		t.Errorf("scope[ARCH] = %q, want %q", scope["ARCH"], "x86_64")
	}
	if _, ok := scope["CFLAGS"]; ok {
		t.Error("scope should not contain non-CONFIG_ keys")
	}
}

func TestParseTupConfigMissingEquals(t *testing.T) {
	t.Parallel()
	_, err := ParseTupConfig(strings.NewReader("NOTAVALUE\n"))
	if err == nil {
		t.Error("ParseTupConfig() should error on a line with no '='")
	}
}
