// Package dispatch implements the Dispatcher of spec §4.E: a 1s-tick
// loop that owns the global in-flight count, pulls a bounded batch from
// the queue, and runs each job as an independent settle-all task against
// the Renderer Pool and Spooler Invoker, gated by the Printer Registry
// and per-printer circuit breakers.
//
// Grounded on agent/scanner/pipeline.go's fixed-tick worker loop
// (admission via a ticker, per-item hard timeout, guaranteed
// post-phase bookkeeping) generalized from a single external scan target
// to per-job render+spool fan-out.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riveruniversity/mp-print/internal/breaker"
	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/metrics"
	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
	"github.com/riveruniversity/mp-print/internal/render"
	"github.com/riveruniversity/mp-print/internal/spool"
)

// Config tunes the dispatcher's ticking and budgets.
type Config struct {
	TickInterval      time.Duration
	MaxConcurrentJobs int
	BatchSize         int
	ProcessingTimeout time.Duration
	ShutdownGrace     time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// Dispatcher is the job scheduling and execution subsystem's driver.
type Dispatcher struct {
	cfg      Config
	queue    *queue.Queue
	registry *registry.Registry
	breakers *breaker.Set
	renderer *render.Pool
	spooler  *spool.Invoker
	metrics  *metrics.Aggregator
	log      *logger.Logger

	inFlightCount int64
	inFlightMu    sync.Mutex
	tasks         sync.WaitGroup
}

// New wires a Dispatcher against its collaborators. Every argument is a
// supplied capability (interface-shaped in practice through these
// concrete types) rather than something the dispatcher constructs
// itself, matching the spec's redesign note against hidden cyclic
// ownership between service and renderer.
func New(cfg Config, q *queue.Queue, reg *registry.Registry, brokers *breaker.Set, renderer *render.Pool, spooler *spool.Invoker, agg *metrics.Aggregator, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		queue:    q,
		registry: reg,
		breakers: brokers,
		renderer: renderer,
		spooler:  spooler,
		metrics:  agg,
		log:      log,
	}
}

// Run ticks until ctx is cancelled. On cancellation it stops launching
// new tasks and waits up to ShutdownGrace for in-flight tasks to settle.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.awaitShutdown()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	available := d.cfg.MaxConcurrentJobs - d.InFlight()
	if available <= 0 {
		return
	}
	n := available
	if n > d.cfg.BatchSize {
		n = d.cfg.BatchSize
	}
	jobs := d.queue.Take(n)
	for _, job := range jobs {
		d.addInFlight(1)
		d.tasks.Add(1)
		go d.runTask(ctx, job)
	}
}

// awaitShutdown waits ShutdownGrace for running tasks to finish; tasks
// still outstanding afterward were already cancelled via their own
// processingTimeout-derived context and will mark themselves Cancelled.
func (d *Dispatcher) awaitShutdown() {
	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		if d.log != nil {
			d.log.Warn("shutdown grace elapsed with tasks still in flight")
		}
	}
}

func (d *Dispatcher) InFlight() int {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	return int(d.inFlightCount)
}

func (d *Dispatcher) addInFlight(delta int64) {
	d.inFlightMu.Lock()
	d.inFlightCount += delta
	d.inFlightMu.Unlock()
}

// runTask is one job's full lifecycle: printer resolution, breaker gate,
// CSS injection, renderer readiness, per-copy settle-all render+spool,
// and a guaranteed in-flight decrement.
func (d *Dispatcher) runTask(parentCtx context.Context, job *model.PrintJob) {
	defer d.tasks.Done()
	defer d.addInFlight(-1)

	ctx, cancel := context.WithTimeout(parentCtx, d.cfg.ProcessingTimeout)
	defer cancel()

	startedAt := time.Now()
	label := job.Request.Label
	printerName := label.PrinterName

	if !d.registry.IsAvailable(printerName) {
		d.queue.Complete(job.ID, false, fmt.Sprintf("%v: printer %q", model.ErrUnavailablePrinter, printerName))
		d.metrics.RecordJobFailed()
		return
	}

	brk := d.breakers.For(printerName)
	if !brk.IsAvailable() {
		d.queue.Complete(job.ID, false, fmt.Sprintf("%v: printer %q", model.ErrBreakerOpen, printerName))
		d.metrics.RecordJobFailed()
		return
	}

	d.registry.MarkJobStart(printerName)
	success := false
	defer func() { d.registry.MarkJobEnd(printerName, success) }()

	html := injectPrintCSS(label.HTML, label.Width, label.Height, label.Margins)

	if !d.ensureRendererReady(ctx) {
		d.queue.Complete(job.ID, false, model.ErrRendererUnavailable.Error())
		d.metrics.RecordJobFailed()
		if brk.RecordFailure() {
			d.metrics.RecordBreakerTrip()
		}
		return
	}

	geo := render.Geometry{Width: label.Width, Height: label.Height, Margins: label.Margins, Orientation: label.Orientation}
	copies := label.Copies
	if copies <= 0 {
		copies = 1
	}
	results := make([]bool, copies)
	var g errgroup.Group
	for i := 0; i < copies; i++ {
		i := i
		g.Go(func() error {
			results[i] = d.renderAndSpoolOne(ctx, html, geo, printerName)
			return nil
		})
	}
	g.Wait()

	successes := 0
	var failedIdx []int
	for i, ok := range results {
		if ok {
			successes++
		} else {
			failedIdx = append(failedIdx, i)
		}
	}
	threshold := (copies + 1) / 2

	if ctx.Err() != nil {
		reason := model.ErrProcessingTimeout
		if parentCtx.Err() != nil {
			reason = model.ErrCancelled
		}
		d.queue.Complete(job.ID, false, reason.Error())
		d.metrics.RecordJobFailed()
		if brk.RecordFailure() {
			d.metrics.RecordBreakerTrip()
		}
		return
	}

	if successes >= threshold {
		success = true
		d.queue.Complete(job.ID, true, "")
		d.metrics.RecordJobCompleted(float64(time.Since(startedAt).Milliseconds()))
		brk.RecordSuccess()
		return
	}

	d.queue.Complete(job.ID, false, fmt.Sprintf("%v: copies failed %v", model.ErrRenderFailed, failedIdx))
	d.metrics.RecordJobFailed()
	if brk.RecordFailure() {
		d.metrics.RecordBreakerTrip()
	}
}

// renderAndSpoolOne renders one copy and, on success, spools it. It
// never returns an error directly: the bool result is sufficient for the
// settle-all partial-success accounting in runTask.
func (d *Dispatcher) renderAndSpoolOne(ctx context.Context, html []byte, geo render.Geometry, printerName string) bool {
	pdf, err := d.renderer.Render(ctx, html, geo)
	if err != nil {
		return false
	}
	if err := d.spooler.Spool(ctx, pdf, printerName); err != nil {
		return false
	}
	return true
}

// ensureRendererReady checks pool status and, if not ready, recycles once
// before giving up (spec §4.E step 4).
func (d *Dispatcher) ensureRendererReady(ctx context.Context) bool {
	if d.renderer.Status().Available {
		return true
	}
	d.renderer.Recycle(ctx)
	d.metrics.RecordRendererRecycle()
	return d.renderer.Status().Available
}

// injectPrintCSS hard-codes an @page rule from width/height/margins into
// html, unless html already defines @media print or @page (spec §4.E
// step 3). Insertion point is before </head> when present, else prepend.
func injectPrintCSS(html []byte, width, height string, margins model.Margins) []byte {
	lower := bytes.ToLower(html)
	if bytes.Contains(lower, []byte("@media print")) || bytes.Contains(lower, []byte("@page")) {
		return html
	}
	block := fmt.Sprintf(
		"<style>@page { size: %s %s; margin: %s %s %s %s; } </style>",
		width, height, margins.Top, margins.Right, margins.Bottom, margins.Left,
	)
	if idx := bytes.Index(lower, []byte("</head>")); idx >= 0 {
		out := make([]byte, 0, len(html)+len(block))
		out = append(out, html[:idx]...)
		out = append(out, []byte(block)...)
		out = append(out, html[idx:]...)
		return out
	}
	return append([]byte(block), html...)
}
