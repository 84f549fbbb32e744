// Package spool implements the Spooler Invoker of spec §4.F: write PDF
// bytes to a collision-free temp file, invoke the external PDF-to-printer
// binary under a wall-clock cap, then schedule delayed cleanup that logs
// rather than raises on failure.
//
// Grounded on common/util/sysinfo.go's exec.CommandContext-with-timeout
// discipline, generalized from a fixed OS-info command to an arbitrary
// caller-supplied spooler binary.
package spool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/model"
)

// Config points at the spooler binary and its working directory.
type Config struct {
	BinaryPath  string
	WorkingDir  string
	WallClock   time.Duration // 10s per spec
	CleanupWait time.Duration // 2s per spec
}

func (c Config) withDefaults() Config {
	if c.WorkingDir == "" {
		c.WorkingDir = os.TempDir()
	}
	if c.WallClock <= 0 {
		c.WallClock = 10 * time.Second
	}
	if c.CleanupWait <= 0 {
		c.CleanupWait = 2 * time.Second
	}
	return c
}

// Invoker is the stateless, re-entrant spooler invocation helper.
type Invoker struct {
	cfg Config
	log *logger.Logger
}

// New creates an Invoker.
func New(cfg Config, log *logger.Logger) *Invoker {
	return &Invoker{cfg: cfg.withDefaults(), log: log}
}

// Spool writes pdf to a unique temp file and invokes the spooler binary
// as `<binary> <pdfPath> <printerName>`. Zero exit status is success;
// anything else (including a timeout) is model.ErrSpoolFailed.
func (inv *Invoker) Spool(ctx context.Context, pdf []byte, printerName string) error {
	path, err := inv.writeTempFile(pdf)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSpoolFailed, err)
	}
	defer inv.scheduleCleanup(path)

	ctx, cancel := context.WithTimeout(ctx, inv.cfg.WallClock)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.cfg.BinaryPath, path, printerName)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSpoolFailed, err)
	}
	return nil
}

// writeTempFile creates a collision-free PDF file under WorkingDir. The
// name carries a timestamp plus a uuid random component (>=48 bits of
// entropy, per spec §4.F/§8 property 7).
func (inv *Invoker) writeTempFile(pdf []byte) (string, error) {
	name := fmt.Sprintf("mp-print-%d-%s.pdf", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(inv.cfg.WorkingDir, name)
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// scheduleCleanup removes path after CleanupWait; failures are logged,
// never raised, per spec §4.F.
func (inv *Invoker) scheduleCleanup(path string) {
	time.AfterFunc(inv.cfg.CleanupWait, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if inv.log != nil {
				inv.log.Warn("spool temp file cleanup failed", "path", path, "error", err.Error())
			}
		}
	})
}
