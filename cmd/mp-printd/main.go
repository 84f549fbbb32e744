// Command mp-printd is the print server's composition root: it loads
// config, builds the queue, printer registry, renderer pool, dispatcher,
// metrics aggregator, submission adapter, and HTTP layer, wires them
// together, and runs either as a Windows service or interactively.
//
// Grounded on server/main.go's single composition-root main (explicit
// struct wiring, no DI framework, flag-driven service control) and
// agent/service.go's program/service.Interface wrapper, both adapted
// from the teacher's multi-tenant fleet-management domain down to one
// print daemon's component graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riveruniversity/mp-print/internal/breaker"
	"github.com/riveruniversity/mp-print/internal/cliutil"
	"github.com/riveruniversity/mp-print/internal/config"
	"github.com/riveruniversity/mp-print/internal/dispatch"
	"github.com/riveruniversity/mp-print/internal/events"
	"github.com/riveruniversity/mp-print/internal/httpapi"
	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/metrics"
	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
	"github.com/riveruniversity/mp-print/internal/render"
	"github.com/riveruniversity/mp-print/internal/service"
	"github.com/riveruniversity/mp-print/internal/spool"
	"github.com/riveruniversity/mp-print/internal/submit"

	kservice "github.com/kardianos/service"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.toml", "Configuration file path")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	svcCommand := flag.String("service", "", "Service command: install, uninstall, start, stop, run")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mp-printd %s\n", Version)
		return
	}

	if *generateConfig {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("generated default configuration at %s\n", *configPath)
		return
	}

	if *svcCommand != "" {
		handleServiceCommand(*svcCommand, *configPath)
		return
	}

	if !kservice.Interactive() {
		runAsService(*configPath)
		return
	}

	run(context.Background(), *configPath)
}

// handleServiceCommand installs, removes, starts, or stops the Windows
// service registration without entering the daemon's own run loop; the
// "run" command instead runs the daemon under the service manager.
func handleServiceCommand(cmd, configPath string) {
	prg := service.NewProgram(func(ctx context.Context) { run(ctx, configPath) }, 10*time.Second)
	s, err := kservice.New(prg, service.Config())
	if err != nil {
		cliutil.ShowError(fmt.Sprintf("failed to create service: %v", err))
		os.Exit(1)
	}

	switch cmd {
	case "install":
		if err := service.EnsureDirectories(); err != nil {
			cliutil.ShowError(fmt.Sprintf("failed to set up directories: %v", err))
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			cliutil.ShowError(fmt.Sprintf("failed to install service: %v", err))
			os.Exit(1)
		}
		cliutil.ShowSuccess("service installed")
	case "uninstall":
		if err := s.Uninstall(); err != nil {
			cliutil.ShowError(fmt.Sprintf("failed to uninstall service: %v", err))
			os.Exit(1)
		}
		cliutil.ShowSuccess("service uninstalled")
	case "start":
		if err := s.Start(); err != nil {
			cliutil.ShowError(fmt.Sprintf("failed to start service: %v", err))
			os.Exit(1)
		}
		cliutil.ShowSuccess("service started")
	case "stop":
		if err := s.Stop(); err != nil {
			cliutil.ShowError(fmt.Sprintf("failed to stop service: %v", err))
			os.Exit(1)
		}
		cliutil.ShowSuccess("service stopped")
	case "run":
		if err := s.Run(); err != nil {
			cliutil.ShowError(fmt.Sprintf("service run failed: %v", err))
			os.Exit(1)
		}
	default:
		cliutil.ShowError(fmt.Sprintf("unknown service command %q", cmd))
		os.Exit(1)
	}
}

// runAsService is entered automatically when the OS starts the binary
// as a Windows service (non-interactive session).
func runAsService(configPath string) {
	prg := service.NewProgram(func(ctx context.Context) { run(ctx, configPath) }, 10*time.Second)
	s, err := kservice.New(prg, service.Config())
	if err != nil {
		os.Exit(1)
	}
	if err := s.Run(); err != nil {
		os.Exit(1)
	}
}

// run builds every component and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func run(ctx context.Context, configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.LevelFromString(cfg.Logging.Level), cfg.Logging.Dir, 1000)
	defer log.Close()
	log.Info("mp-printd starting", "version", Version, "port", cfg.HTTP.Port)

	hub := events.NewHub()
	q := queue.New(queue.Config{
		MaxQueueSize: cfg.Queue.MaxQueueSize,
		MaxRetries:   cfg.Retry.MaxRetries,
		RetryDelay:   cfg.RetryDelay(),
	}, hub)
	defer q.Close()

	brokers := breaker.NewSet(breaker.DefaultConfig())

	reg := registry.New(registry.Config{
		HealthInterval: cfg.HealthCheckInterval(),
	}, log, brokers)
	if err := reg.Discover(ctx); err != nil {
		log.Warn("initial printer discovery failed", "error", err.Error())
	}
	go reg.RunHealthLoop(ctx)

	renderer := render.New(render.Config{ChromeBinary: cfg.Renderer.ChromeBinary}, log)
	if err := renderer.Start(ctx); err != nil {
		log.Error("renderer pool failed to start", "error", err.Error())
	}
	defer renderer.Stop()

	spooler := spool.New(spool.Config{
		BinaryPath: cfg.Spooler.BinaryPath,
		WorkingDir: cfg.Spooler.WorkingDir,
	}, log)

	agg := metrics.New(metrics.GaugeSources{
		QueueLength:    func() int { return q.Status().Queued },
		ActivePrinters: func() int { return countOnline(reg) },
		InFlight:       func() int { return q.Status().InFlight },
	})
	metricsStop := make(chan struct{})
	go agg.RunLoop(metricsStop, 5*time.Second)
	defer close(metricsStop)

	disp := dispatch.New(dispatch.Config{
		MaxConcurrentJobs: cfg.Queue.MaxConcurrentJobs,
		BatchSize:         cfg.Queue.BatchSize,
		ProcessingTimeout: cfg.ProcessingTimeout(),
		ShutdownGrace:     10 * time.Second,
	}, q, reg, brokers, renderer, spooler, agg, log)
	go disp.Run(ctx)

	sub := submit.New(submit.Config{}, q, reg, agg)

	api := httpapi.New(httpapi.Config{
		RateLimitWindow: cfg.RateLimitWindow(),
		RateLimitMax:    cfg.RateLim.Max,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, sub, q, reg, agg, hub, log)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", "error", err.Error())
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown did not complete cleanly", "error", err.Error())
	}
}

// countOnline is a small gauge-source helper kept out of the metrics
// package itself to avoid an import cycle between metrics and registry.
func countOnline(reg *registry.Registry) int {
	count := 0
	for _, p := range reg.List() {
		if p.Status == model.PrinterOnline {
			count++
		}
	}
	return count
}
