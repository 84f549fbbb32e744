// Package service wraps the print daemon's long-running loop in
// kardianos/service's dual interactive/Windows-service mode, so the same
// binary runs under `go run` for development and under the Windows
// Service Control Manager in production.
//
// Grounded on agent/service.go's program/service.Interface shape, cut
// down from the teacher's 30s stop budget to this server's own
// shutdownGrace (10s, spec §4.E "ShutdownGrace").
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

// RunFunc is the daemon's main loop: it blocks until ctx is cancelled,
// then returns once everything it started has wound down.
type RunFunc func(ctx context.Context)

// Program adapts a RunFunc to service.Interface.
type Program struct {
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	run           RunFunc
	shutdownGrace time.Duration
	svcLogger     service.Logger
}

// NewProgram creates a Program that calls run on Start and cancels its
// context on Stop, waiting up to shutdownGrace for run to return.
func NewProgram(run RunFunc, shutdownGrace time.Duration) *Program {
	if shutdownGrace <= 0 {
		shutdownGrace = 10 * time.Second
	}
	return &Program{run: run, shutdownGrace: shutdownGrace}
}

// Start implements service.Interface. It must not block.
func (p *Program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("mp-printd starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.run(p.ctx)
	}()
	return nil
}

// Stop implements service.Interface: cancel the run context and wait up
// to shutdownGrace for it to finish.
func (p *Program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("mp-printd stop requested")
	}
	if p.cancel != nil {
		p.cancel()
	}
	if awaitShutdown(p.done, p.shutdownGrace) {
		if p.svcLogger != nil {
			p.svcLogger.Info("mp-printd stopped gracefully")
		}
	} else if p.svcLogger != nil {
		p.svcLogger.Warning("mp-printd shutdown grace period exceeded")
	}
	return nil
}

// awaitShutdown waits for done to close or timeout to elapse, reporting
// which happened first.
func awaitShutdown(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Config returns the kardianos service descriptor for mp-printd, with
// platform-specific working directories and restart policy.
func Config() *service.Config {
	return &service.Config{
		Name:             "MPPrintDaemon",
		DisplayName:      "MP Print Daemon",
		Description:      "Local HTTP print-job server: renders HTML labels to PDF and dispatches them to Windows printers.",
		WorkingDirectory: dataDir(),
		Arguments:        []string{"--service", "run"},
		Option: service.KeyValue{
			"StartType":              "automatic",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",

			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// dataDir returns the platform-appropriate working directory for the
// daemon's logs and config.
func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "MPPrintServer")
	case "darwin":
		return "/Library/Application Support/MPPrintServer"
	default:
		return "/var/lib/mp-printd"
	}
}

// EnsureDirectories creates the daemon's working and log directories.
func EnsureDirectories() error {
	base := dataDir()
	dirs := []string{base, filepath.Join(base, "logs")}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPath returns the daemon's log file path in service mode.
func LogPath() string {
	return filepath.Join(dataDir(), "logs", "mp-printd.log")
}
