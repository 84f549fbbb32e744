package logger

import (
	"strings"
	"testing"
	"time"
)

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	l := New(WARN, "", 10)
	l.SetConsoleOutput(false)
	l.Info("should be dropped")
	l.Error("should be kept")
	buf := l.Buffer()
	if len(buf) != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", len(buf))
	}
	if buf[0].Message != "should be kept" {
		t.Fatalf("unexpected entry: %+v", buf[0])
	}
}

func TestRingBufferCaps(t *testing.T) {
	t.Parallel()
	l := New(TRACE, "", 3)
	l.SetConsoleOutput(false)
	for i := 0; i < 5; i++ {
		l.Info("entry")
	}
	if len(l.Buffer()) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(l.Buffer()))
	}
}

func TestWarnRateLimited(t *testing.T) {
	t.Parallel()
	l := New(TRACE, "", 10)
	l.SetConsoleOutput(false)
	for i := 0; i < 5; i++ {
		l.WarnRateLimited("probe-fail", time.Hour, "probe failed")
	}
	if len(l.Buffer()) != 1 {
		t.Fatalf("expected rate limiting to collapse to 1 entry, got %d", len(l.Buffer()))
	}
}

func TestFieldsFormatted(t *testing.T) {
	t.Parallel()
	l := New(TRACE, "", 10)
	l.SetConsoleOutput(false)
	l.Info("job failed", "jobID", "abc123", "printer", "HP1")
	buf := l.Buffer()
	if len(buf) != 1 {
		t.Fatalf("expected 1 entry")
	}
	line := formatEntry(buf[0])
	if !strings.Contains(line, "jobID=abc123") || !strings.Contains(line, "printer=HP1") {
		t.Fatalf("expected fields in formatted line, got %q", line)
	}
}
