package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.Queue.MaxQueueSize != 1000 {
		t.Errorf("expected default max queue size 1000, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.Queue.MaxConcurrentJobs != 10 {
		t.Errorf("expected default max concurrent jobs 10, got %d", cfg.Queue.MaxConcurrentJobs)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Retry.MaxRetries)
	}
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	t.Setenv("MAX_QUEUE_SIZE", "42")
	t.Setenv("PORT", "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.MaxQueueSize != 42 {
		t.Errorf("expected env override to win, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected env port override, got %d", cfg.HTTP.Port)
	}
}

func TestHealthCheckIntervalLowerBound(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Health.CheckIntervalSeconds = 10
	if d := cfg.HealthCheckInterval(); d.Seconds() != 60 {
		t.Errorf("expected clamp to 60s, got %v", d)
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatalf("expected error on second write")
	}
}

func TestMissingFileIsNotError(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(os.TempDir(), "does-not-exist-mp-print.toml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Queue.MaxQueueSize != 1000 {
		t.Errorf("expected defaults when file missing")
	}
}
