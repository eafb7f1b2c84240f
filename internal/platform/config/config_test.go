package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Webhooks.MaxRetries != 5 {
		t.Errorf("Webhooks.MaxRetries = %d, want 5", cfg.Webhooks.MaxRetries)
	}
	if cfg.Webhooks.Timeout != 10*time.Second {
		t.Errorf("Webhooks.Timeout = %v, want 10s", cfg.Webhooks.Timeout)
	}
	if cfg.Webhooks.QueueName != "webhooks" {
		t.Errorf("Webhooks.QueueName = %q, want webhooks", cfg.Webhooks.QueueName)
	}
	if cfg.Webhooks.VisibilityTimeout != 5*time.Minute {
		t.Errorf("Webhooks.VisibilityTimeout = %v, want 5m", cfg.Webhooks.VisibilityTimeout)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
webhooks:
  worker_count: 3
  max_retries: 3
  initial_backoff: 4
  timeout: 2s
  pending_threshold: 30s
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Webhooks.WorkerCount != 3 {
		t.Errorf("WorkerCount = %d, want 3", cfg.Webhooks.WorkerCount)
	}
	if cfg.Webhooks.InitialBackoff != 4 {
		t.Errorf("InitialBackoff = %d, want 4", cfg.Webhooks.InitialBackoff)
	}
	if cfg.Webhooks.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.Webhooks.Timeout)
	}
	if cfg.Webhooks.PendingThreshold != 30*time.Second {
		t.Errorf("PendingThreshold = %v, want 30s", cfg.Webhooks.PendingThreshold)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "redis:\n  addr: localhost:6379\n")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Webhooks.InitialBackoff != 2 {
		t.Errorf("InitialBackoff = %d, want 2", cfg.Webhooks.InitialBackoff)
	}
	if cfg.Database.MaxConnections != 1 {
		t.Errorf("MaxConnections = %d, want 1", cfg.Database.MaxConnections)
	}
}
