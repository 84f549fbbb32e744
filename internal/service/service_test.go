package service

import (
	"context"
	"testing"
	"time"
)

func TestAwaitShutdownReturnsTrueWhenDoneCloses(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	close(done)
	if !awaitShutdown(done, time.Second) {
		t.Fatalf("expected true when done already closed")
	}
}

func TestAwaitShutdownReturnsFalseOnTimeout(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	if awaitShutdown(done, 10*time.Millisecond) {
		t.Fatalf("expected false when done never closes before timeout")
	}
}

func TestConfigNamesTheDaemon(t *testing.T) {
	t.Parallel()
	cfg := Config()
	if cfg.Name != "MPPrintDaemon" {
		t.Fatalf("unexpected service name: %s", cfg.Name)
	}
	if cfg.WorkingDirectory == "" {
		t.Fatalf("expected non-empty working directory")
	}
}

func TestNewProgramDefaultsShutdownGrace(t *testing.T) {
	t.Parallel()
	p := NewProgram(func(ctx context.Context) {}, 0)
	if p.shutdownGrace != 10*time.Second {
		t.Fatalf("expected default shutdown grace of 10s, got %v", p.shutdownGrace)
	}
}
