// Package render implements the Renderer Pool of spec §4.A: a single
// headless-browser process, a fresh ephemeral page per render (pooling
// pages was tried upstream and abandoned as unstable, so this package
// deliberately does not), independent hard timers per render stage, and a
// self-healing heartbeat that recycles the browser on disconnect.
//
// Grounded on other_examples' go-rod PDF generator (launcher flag set,
// rod.Browser/rod.Page lifecycle, proto.PagePrintToPDF) generalized from
// its page-pool design to the spec's single-ephemeral-page design, and on
// the gotenberg CDP printer's independent per-stage timer discipline.
package render

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/model"
)

// Geometry carries the per-render page sizing the caller supplies.
type Geometry struct {
	Width       string
	Height      string
	Margins     model.Margins
	Orientation model.Orientation
}

// Config tunes every timer and launch flag the pool uses. Zero fields are
// replaced by the §4.A budgets in New.
type Config struct {
	ChromeBinary string // empty lets go-rod locate/download its own

	ProcessStartBudget time.Duration
	ContentSetSoft     time.Duration
	ContentSetHard     time.Duration
	PDFGenHard         time.Duration
	PageCloseHard      time.Duration

	HeartbeatInterval time.Duration
	RecycleCloseBudget time.Duration
	RecycleQuietGap    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProcessStartBudget <= 0 {
		c.ProcessStartBudget = 15 * time.Second
	}
	if c.ContentSetSoft <= 0 {
		c.ContentSetSoft = 20 * time.Second
	}
	if c.ContentSetHard <= 0 {
		c.ContentSetHard = 25 * time.Second
	}
	if c.PDFGenHard <= 0 {
		c.PDFGenHard = 8 * time.Second
	}
	if c.PageCloseHard <= 0 {
		c.PageCloseHard = 3 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.RecycleCloseBudget <= 0 {
		c.RecycleCloseBudget = 10 * time.Second
	}
	if c.RecycleQuietGap <= 0 {
		c.RecycleQuietGap = 3 * time.Second
	}
	return c
}

// Stats is the pool's point-in-time counters, exposed via Status.
type Stats struct {
	RendersTotal   int64
	RendersFailed  int64
	RecyclesTotal  int64
}

// Status is returned by status().
type Status struct {
	Available bool
	Stats     Stats
}

// Pool owns one headless-browser process. All browser-lifecycle
// mutations (launch, recycle, teardown) are mutually exclusive; Render
// itself may run concurrently against the live browser (spec §5).
type Pool struct {
	cfg Config
	log *logger.Logger

	lifecycle sync.Mutex // guards browser, launcher, ready
	browser   *rod.Browser
	launcher  *launcher.Launcher
	ready     bool

	statsMu sync.Mutex
	stats   Stats

	heartbeatCancel context.CancelFunc
}

// New creates a Pool. The browser is not launched until the first Render
// or an explicit Start call.
func New(cfg Config, log *logger.Logger) *Pool {
	return &Pool{cfg: cfg.withDefaults(), log: log}
}

// Start launches the browser eagerly and begins the self-healing
// heartbeat. Render also launches lazily on first use, so calling Start
// is optional but avoids paying launch latency on the first job.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	hbCtx, cancel := context.WithCancel(context.Background())
	p.heartbeatCancel = cancel
	go p.heartbeatLoop(hbCtx)
	return nil
}

// Stop tears the browser process down and stops the heartbeat.
func (p *Pool) Stop() {
	if p.heartbeatCancel != nil {
		p.heartbeatCancel()
	}
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.teardownLocked()
}

// Status reports whether the pool believes its browser is usable.
func (p *Pool) Status() Status {
	p.lifecycle.Lock()
	ready := p.ready
	p.lifecycle.Unlock()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Status{Available: ready, Stats: p.stats}
}

// Render converts html into a PDF sized to geometry. It acquires a fresh
// page, waits for the page to settle, prints to PDF, and closes the page
// on every exit path under its own hard deadline.
func (p *Pool) Render(ctx context.Context, html []byte, geometry Geometry) ([]byte, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, model.ErrRendererUnavailable
	}

	p.lifecycle.Lock()
	browser := p.browser
	p.lifecycle.Unlock()
	if browser == nil {
		return nil, model.ErrRendererUnavailable
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		p.markDisconnected()
		return nil, model.ErrRendererUnavailable
	}
	defer p.closePage(page)

	if err := p.setContent(ctx, page, html); err != nil {
		p.recordFailure()
		return nil, err
	}

	pdf, err := p.printToPDF(ctx, page, geometry)
	if err != nil {
		p.recordFailure()
		return nil, err
	}

	p.recordSuccess()
	return pdf, nil
}

func (p *Pool) setContent(ctx context.Context, page *rod.Page, html []byte) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", model.ErrRenderFailed, r)
			}
		}()
		if err := page.SetDocumentContent(string(html)); err != nil {
			done <- err
			return
		}
		// Wait for network quiescence (no in-flight requests) so remote
		// images referenced by the label have a chance to load, bounded
		// by the soft timer; the hard timer below is the real backstop.
		waitCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ContentSetSoft)
		defer cancel()
		wait := page.Context(waitCtx).WaitRequestIdle(time.Second, nil, nil, nil)
		wait()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrRenderFailed, err)
		}
		return nil
	case <-time.After(p.cfg.ContentSetHard):
		return model.ErrRenderTimeout
	case <-ctx.Done():
		return model.ErrCancelled
	}
}

func (p *Pool) printToPDF(ctx context.Context, page *rod.Page, geometry Geometry) ([]byte, error) {
	opts := buildPDFOptions(geometry)
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%v", r)}
			}
		}()
		r, err := page.PDF(opts)
		if err != nil {
			done <- result{err: err}
			return
		}
		data, err := io.ReadAll(r)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrRenderFailed, r.err)
		}
		return r.data, nil
	case <-time.After(p.cfg.PDFGenHard):
		return nil, model.ErrRenderTimeout
	case <-ctx.Done():
		return nil, model.ErrCancelled
	}
}

func (p *Pool) closePage(page *rod.Page) {
	done := make(chan struct{}, 1)
	go func() {
		page.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.PageCloseHard):
		// Page reference dropped; the browser is scheduled for recycle
		// since a wedged page usually means a wedged renderer process.
		if p.log != nil {
			p.log.Warn("renderer page close exceeded hard deadline, scheduling recycle")
		}
		p.markDisconnected()
	}
}

// ensureReady launches the browser if it is not already marked ready.
func (p *Pool) ensureReady(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.ready && p.browser != nil {
		return nil
	}
	return p.launchLocked()
}

// launchLocked must be called with lifecycle held.
func (p *Pool) launchLocked() error {
	l := launcher.New().
		Headless(true).
		Leakless(true).
		Set("disable-gpu", "1").
		Set("disable-extensions", "1").
		Set("disable-background-networking", "1").
		Set("autoplay-policy", "user-gesture-required")
	if p.cfg.ChromeBinary != "" {
		l = l.Bin(p.cfg.ChromeBinary)
	}

	type launchResult struct {
		url string
		err error
	}
	done := make(chan launchResult, 1)
	go func() {
		url, err := l.Launch()
		done <- launchResult{url: url, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %v", model.ErrRendererUnavailable, r.err)
		}
		browser := rod.New().ControlURL(r.url)
		if err := browser.Connect(); err != nil {
			return fmt.Errorf("%w: %v", model.ErrRendererUnavailable, err)
		}
		p.browser = browser
		p.launcher = l
		p.ready = true
		return nil
	case <-time.After(p.cfg.ProcessStartBudget):
		return model.ErrRendererUnavailable
	}
}

// Recycle tears the current browser down (with a close budget) and
// relaunches after a quiet gap, per the §4.A self-healing algorithm.
func (p *Pool) Recycle(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.teardownLocked()
	p.statsMu.Lock()
	p.stats.RecyclesTotal++
	p.statsMu.Unlock()

	time.Sleep(p.cfg.RecycleQuietGap)
	return p.launchLocked()
}

// teardownLocked must be called with lifecycle held.
func (p *Pool) teardownLocked() {
	if p.browser == nil {
		p.ready = false
		return
	}
	done := make(chan struct{}, 1)
	browser := p.browser
	go func() {
		browser.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.RecycleCloseBudget):
		if p.log != nil {
			p.log.Warn("renderer close exceeded recycle budget, abandoning process")
		}
	}
	if p.launcher != nil {
		p.launcher.Kill()
	}
	p.browser = nil
	p.launcher = nil
	p.ready = false
}

func (p *Pool) markDisconnected() {
	p.lifecycle.Lock()
	p.ready = false
	p.lifecycle.Unlock()
}

func (p *Pool) recordSuccess() {
	p.statsMu.Lock()
	p.stats.RendersTotal++
	p.statsMu.Unlock()
}

func (p *Pool) recordFailure() {
	p.statsMu.Lock()
	p.stats.RendersTotal++
	p.stats.RendersFailed++
	p.statsMu.Unlock()
}

// heartbeatLoop verifies browser connectivity every HeartbeatInterval;
// on disconnect it marks the pool not-ready so the next Render recycles.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.lifecycle.Lock()
			browser := p.browser
			ready := p.ready
			p.lifecycle.Unlock()
			if !ready || browser == nil {
				continue
			}
			if _, err := browser.Version(); err != nil {
				if p.log != nil {
					p.log.Warn("renderer heartbeat detected disconnect", "error", err.Error())
				}
				p.markDisconnected()
			}
		}
	}
}

// buildPDFOptions converts Geometry into go-rod's PDF print options,
// matching the caller's width/height/margins with preferCSSPageSize set
// so the page's own @page rule (injected by the dispatcher) governs size.
func buildPDFOptions(g Geometry) *proto.PagePrintToPDF {
	opts := &proto.PagePrintToPDF{
		PreferCSSPageSize: true,
		PrintBackground:   true,
		Landscape:         g.Orientation == model.OrientationLandscape,
	}
	if w, ok := parseInches(g.Width); ok {
		opts.PaperWidth = &w
	}
	if h, ok := parseInches(g.Height); ok {
		opts.PaperHeight = &h
	}
	if v, ok := parseInches(g.Margins.Top); ok {
		opts.MarginTop = &v
	}
	if v, ok := parseInches(g.Margins.Right); ok {
		opts.MarginRight = &v
	}
	if v, ok := parseInches(g.Margins.Bottom); ok {
		opts.MarginBottom = &v
	}
	if v, ok := parseInches(g.Margins.Left); ok {
		opts.MarginLeft = &v
	}
	return opts
}

// parseInches converts a renderer-dialect length string ("4in", "101mm",
// "2.5cm", or a bare number assumed to already be inches) to inches.
func parseInches(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch {
	case strings.HasSuffix(s, "in"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "in"), 64)
		return v, err == nil
	case strings.HasSuffix(s, "mm"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "mm"), 64)
		return v / 25.4, err == nil
	case strings.HasSuffix(s, "cm"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "cm"), 64)
		return v / 2.54, err == nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
}
