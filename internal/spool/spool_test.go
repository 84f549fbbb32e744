package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSpoolerScript writes a tiny shell script that exits with the given
// status, standing in for the external PDF-to-printer binary in tests.
func fakeSpoolerScript(t *testing.T, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spooler.sh")
	script := "#!/bin/sh\nexit " + itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatalf("write fake spooler: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestSpoolSuccessRunsBinaryAndCleansUp(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()
	inv := New(Config{
		BinaryPath:  fakeSpoolerScript(t, 0),
		WorkingDir:  workDir,
		CleanupWait: 10 * time.Millisecond,
	}, nil)

	if err := inv.Spool(context.Background(), []byte("%PDF-1.4 fake"), "P1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one temp file present before cleanup, got %d", len(entries))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entries, _ = os.ReadDir(workDir)
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected temp file to be cleaned up after CleanupWait")
}

func TestSpoolNonZeroExitIsSpoolFailed(t *testing.T) {
	t.Parallel()
	inv := New(Config{
		BinaryPath:  fakeSpoolerScript(t, 1),
		WorkingDir:  t.TempDir(),
		CleanupWait: time.Millisecond,
	}, nil)
	err := inv.Spool(context.Background(), []byte("%PDF-1.4 fake"), "P1")
	if err == nil {
		t.Fatalf("expected error on nonzero exit")
	}
}

func TestSpoolRespectsWallClockTimeout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "slow.sh")
	os.WriteFile(scriptPath, []byte("#!/bin/sh\nsleep 5\n"), 0o700)

	inv := New(Config{
		BinaryPath:  scriptPath,
		WorkingDir:  t.TempDir(),
		WallClock:   10 * time.Millisecond,
		CleanupWait: time.Millisecond,
	}, nil)
	start := time.Now()
	err := inv.Spool(context.Background(), []byte("%PDF-1.4 fake"), "P1")
	if err == nil {
		t.Fatalf("expected timeout to surface as an error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected Spool to respect the wall clock cap, took %v", time.Since(start))
	}
}

func TestTempFileNamesAreUnique(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()
	inv := New(Config{WorkingDir: workDir}, nil)
	p1, err := inv.writeTempFile([]byte("a"))
	if err != nil {
		t.Fatalf("writeTempFile: %v", err)
	}
	p2, err := inv.writeTempFile([]byte("b"))
	if err != nil {
		t.Fatalf("writeTempFile: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct temp file paths, got %s twice", p1)
	}
}
