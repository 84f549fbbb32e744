// Package registry implements the Printer Registry & Health Loop of spec
// §4.B: OS-command-based discovery with a bounded timeout, a single
// non-overlapping background health ticker that round-robins a handful of
// records per tick, and cache reads for list()/isAvailable() that never
// wait on I/O.
//
// Grounded on agent/discover.go's "invoke an external command under a
// deadline, parse structured output, never fail discovery fatally" shape,
// and common/util/sysinfo.go's os/exec-with-timeout-and-fallback
// discipline. Health-loop round-robin ticking follows
// agent/scanner/pipeline.go's jittered, non-overlapping worker tick.
package registry

import (
	"context"
	"encoding/json"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/riveruniversity/mp-print/internal/breaker"
	"github.com/riveruniversity/mp-print/internal/logger"
	"github.com/riveruniversity/mp-print/internal/model"
)

// enumeratedPrinter is the OS enumeration contract's wire shape (§6):
// {Name, PrinterStatus, DriverName, PortName}.
type enumeratedPrinter struct {
	Name          string `json:"Name"`
	PrinterStatus int    `json:"PrinterStatus"`
	DriverName    string `json:"DriverName"`
	PortName      string `json:"PortName"`
}

// Config tunes discovery and health-loop timing.
type Config struct {
	// EnumerationCommand and EnumerationArgs invoke the OS printer
	// enumeration command; its stdout must be a JSON array of
	// enumeratedPrinter. Defaults target PowerShell's Get-Printer.
	EnumerationCommand string
	EnumerationArgs    []string
	DiscoveryTimeout   time.Duration // 3-5s per spec
	HealthInterval     time.Duration // >=60s per spec
	ProbesPerTick      int           // 3 per spec
	ProbeTimeout       time.Duration // 2s per spec
	InterProbeGap      time.Duration // 100ms per spec
}

func (c Config) withDefaults() Config {
	if c.EnumerationCommand == "" {
		c.EnumerationCommand = "powershell"
		c.EnumerationArgs = []string{"-NoProfile", "-Command",
			"Get-Printer | Select-Object Name,PrinterStatus,DriverName,PortName | ConvertTo-Json"}
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 4 * time.Second
	}
	if c.HealthInterval < 60*time.Second {
		c.HealthInterval = 60 * time.Second
	}
	if c.ProbesPerTick <= 0 {
		c.ProbesPerTick = 3
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.InterProbeGap <= 0 {
		c.InterProbeGap = 100 * time.Millisecond
	}
	return c
}

// record is the registry's internal per-printer state, each guarded by
// its own lock so health-loop writes never block list() readers for long.
type record struct {
	mu   sync.Mutex
	data model.PrinterRecord
}

// Registry is the printer cache: discovered at startup, refreshed by a
// background health loop, read by list()/get()/isAvailable() under a
// shared map lock plus each record's own lock, never blocking on I/O.
type Registry struct {
	cfg     Config
	log     *logger.Logger
	brokers *breaker.Set

	mu       sync.RWMutex
	printers map[string]*record

	sf      singleflight.Group
	ticking atomic.Bool // true while a health tick is in progress
}

// New creates a Registry. brokers is consulted by IsAvailable; it may be
// nil if breaker gating is handled elsewhere.
func New(cfg Config, log *logger.Logger, brokers *breaker.Set) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		log:      log,
		brokers:  brokers,
		printers: make(map[string]*record),
	}
}

// Discover runs the OS enumeration command once and merges results into
// the cache, preserving each existing record's error counters. A timeout
// or parse failure yields an empty/unchanged registry, never a fatal
// error (spec §4.B) — Discover itself always returns nil. Callers that
// need to distinguish "discovery timed out" from "discovery ran and
// found nothing" (spec §6 GET /printers) should pass a ctx with their
// own deadline and inspect ctx.Err() after Discover returns, since a
// timed-out enumeration command leaves that ctx's deadline exceeded.
func (r *Registry) Discover(ctx context.Context) error {
	r.sf.Do("discover", func() (interface{}, error) {
		r.discoverOnce(ctx)
		return nil, nil
	})
	return nil
}

func (r *Registry) discoverOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DiscoveryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.EnumerationCommand, r.cfg.EnumerationArgs...)
	out, err := cmd.Output()
	if err != nil {
		if r.log != nil {
			r.log.Warn("printer enumeration failed", "error", err.Error())
		}
		return
	}

	var entries []enumeratedPrinter
	if err := decodeEnumeration(out, &entries); err != nil {
		if r.log != nil {
			r.log.Warn("printer enumeration output unparsable", "error", err.Error())
		}
		return
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		rec, ok := r.printers[e.Name]
		if !ok {
			rec = &record{data: model.PrinterRecord{Name: e.Name}}
			r.printers[e.Name] = rec
		}
		rec.mu.Lock()
		rec.data.Port = e.PortName
		rec.data.Driver = e.DriverName
		rec.data.Status = model.StatusFromCode(e.PrinterStatus)
		rec.data.CachedAt = now
		rec.mu.Unlock()
	}
}

// decodeEnumeration accepts either a JSON array or a single JSON object
// (PowerShell's ConvertTo-Json collapses a one-element array to a bare
// object, a well-known gotcha with Get-Printer on single-printer hosts).
func decodeEnumeration(out []byte, entries *[]enumeratedPrinter) error {
	if err := json.Unmarshal(out, entries); err == nil {
		return nil
	}
	var single enumeratedPrinter
	if err := json.Unmarshal(out, &single); err != nil {
		return err
	}
	*entries = []enumeratedPrinter{single}
	return nil
}

// List returns a snapshot of every cached printer, without blocking on
// any I/O (spec §4.B cache semantics).
func (r *Registry) List() []model.PrinterRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PrinterRecord, 0, len(r.printers))
	for _, rec := range r.printers {
		rec.mu.Lock()
		out = append(out, rec.data.Clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the cached record for name.
func (r *Registry) Get(name string) (model.PrinterRecord, bool) {
	r.mu.RLock()
	rec, ok := r.printers[name]
	r.mu.RUnlock()
	if !ok {
		return model.PrinterRecord{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.data.Clone(), true
}

// consecutiveFailureGuard and recentErrorWindow implement the
// "¬(consecutiveFailures > 3 ∧ now − lastError < 5 min)" clause of the
// §4.B availability rule: a printer that has just failed repeatedly is
// held unavailable for a cooldown window even if its last-observed
// status is online.
const (
	consecutiveFailureGuard = 3
	recentErrorWindow       = 5 * time.Minute
)

// IsAvailable reports whether printer name is known, online, not gated
// by an open circuit breaker, and not in the recent-repeated-failure
// cooldown window (spec §4.B).
func (r *Registry) IsAvailable(name string) bool {
	rec, ok := r.Get(name)
	if !ok || rec.Status != model.PrinterOnline {
		return false
	}
	if rec.ConsecutiveFailures > consecutiveFailureGuard && time.Since(rec.LastErrorAt) < recentErrorWindow {
		return false
	}
	if r.brokers != nil && !r.brokers.For(name).IsAvailable() {
		return false
	}
	return true
}

// MarkJobStart increments a printer's in-flight job counter.
func (r *Registry) MarkJobStart(name string) {
	r.mu.RLock()
	rec, ok := r.printers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.data.InFlightJobs++
	rec.mu.Unlock()
}

// MarkJobEnd decrements the in-flight counter and, on failure, stamps the
// consecutive-failure counter and last-error time; on success it resets
// consecutive failures and stamps last-success.
func (r *Registry) MarkJobEnd(name string, success bool) {
	r.mu.RLock()
	rec, ok := r.printers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.data.InFlightJobs > 0 {
		rec.data.InFlightJobs--
	}
	if success {
		rec.data.LastSuccessAt = time.Now()
		rec.data.ConsecutiveFailures = 0
	} else {
		rec.data.ConsecutiveFailures++
		rec.data.LastErrorAt = time.Now()
	}
}

// RunHealthLoop blocks ticking the health loop at cfg.HealthInterval
// until ctx is cancelled. Each tick probes up to ProbesPerTick printers,
// round-robin, oldest-checked first; overlapping ticks are skipped via a
// boolean guard rather than queued.
func (r *Registry) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Registry) tick(ctx context.Context) {
	if !r.ticking.CompareAndSwap(false, true) {
		return // previous tick still running; skip this one
	}
	defer r.ticking.Store(false)

	names := r.orderedNamesForProbe()
	if len(names) == 0 {
		return
	}
	n := r.cfg.ProbesPerTick
	if n > len(names) {
		n = len(names)
	}
	for i := 0; i < n; i++ {
		r.probe(ctx, names[i])
		if i < n-1 {
			time.Sleep(r.cfg.InterProbeGap)
		}
	}
}

// orderedNamesForProbe returns printer names sorted oldest-CachedAt-first.
func (r *Registry) orderedNamesForProbe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.printers))
	for name := range r.printers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri := r.printers[names[i]]
		rj := r.printers[names[j]]
		ri.mu.Lock()
		ti := ri.data.CachedAt
		ri.mu.Unlock()
		rj.mu.Lock()
		tj := rj.data.CachedAt
		rj.mu.Unlock()
		return ti.Before(tj)
	})
	return names
}

// probe re-enumerates a single printer's status via the same OS command
// scoped to a per-probe timeout. Statuses and counters are updated under
// the record's own lock.
func (r *Registry) probe(ctx context.Context, name string) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	status, err := r.probeStatus(probeCtx, name)

	r.mu.RLock()
	rec, ok := r.printers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	prevStatus := rec.data.Status
	rec.data.CachedAt = time.Now()
	if err != nil {
		rec.data.ConsecutiveFailures++
		rec.data.LastErrorAt = time.Now()
		rec.data.Status = model.PrinterError
	} else {
		rec.data.Status = status
		if status == model.PrinterOnline {
			rec.data.ConsecutiveFailures = 0
			rec.data.LastSuccessAt = time.Now()
		}
	}
	if r.log != nil && prevStatus != rec.data.Status {
		r.log.Info("printer status changed", "printer", name, "from", string(prevStatus), "to", string(rec.data.Status))
	}
}

// probeStatus re-runs the enumeration command and extracts name's status.
// A printer missing from the result is treated as offline rather than an
// error (it may have been temporarily unlisted by the spooler service).
func (r *Registry) probeStatus(ctx context.Context, name string) (model.PrinterStatus, error) {
	cmd := exec.CommandContext(ctx, r.cfg.EnumerationCommand, r.cfg.EnumerationArgs...)
	out, err := cmd.Output()
	if err != nil {
		return model.PrinterOffline, err
	}
	var entries []enumeratedPrinter
	if err := decodeEnumeration(out, &entries); err != nil {
		return model.PrinterOffline, err
	}
	for _, e := range entries {
		if e.Name == name {
			return model.StatusFromCode(e.PrinterStatus), nil
		}
	}
	return model.PrinterOffline, nil
}
