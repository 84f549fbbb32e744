// Package metrics implements the Metrics Aggregator of spec §4.G:
// monotonic counters, gauges sourced from the queue/registry at refresh
// time, and a Welford-incremental running mean of completed-job
// processing time. Reads never block on live state; they return the
// last 5s-ticker snapshot.
//
// Grounded on agent/usbproxy/metrics/registry.go's registry-style counter
// struct (atomic counters behind a narrow accessor API) and
// agent/storage/downsample.go's incremental-aggregate accumulator, here
// specialized to Welford's single-pass mean update (no variance is kept).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the last-computed metrics read, returned by Snapshot().
type Snapshot struct {
	TotalJobs         int64
	CompletedJobs     int64
	FailedJobs        int64
	QueueLength       int
	ActivePrinters    int
	InFlight          int
	MeanProcessingMs  float64
	RendererRecycles  int64
	BreakerTrips      int64
}

// GaugeSources supplies the live values the aggregator samples on each
// refresh tick; each func must return promptly (no I/O).
type GaugeSources struct {
	QueueLength    func() int
	ActivePrinters func() int
	InFlight       func() int
}

// Aggregator accumulates counters and a running mean, refreshing a
// read-only snapshot every RunLoop interval (5s per spec).
type Aggregator struct {
	sources GaugeSources

	totalJobs        atomic.Int64
	completedJobs    atomic.Int64
	failedJobs       atomic.Int64
	rendererRecycles atomic.Int64
	breakerTrips     atomic.Int64

	meanMu   sync.Mutex
	meanMs   float64
	meanN    int64

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates an Aggregator. sources may have nil fields; a nil gauge
// source reads as zero.
func New(sources GaugeSources) *Aggregator {
	return &Aggregator{sources: sources}
}

// RecordJobAdmitted increments totalJobs.
func (a *Aggregator) RecordJobAdmitted() {
	a.totalJobs.Add(1)
}

// RecordJobCompleted folds processingMs into the Welford running mean
// and increments completedJobs. Only completed (successful) jobs feed
// the mean, per spec §4.G.
func (a *Aggregator) RecordJobCompleted(processingMs float64) {
	a.completedJobs.Add(1)
	a.meanMu.Lock()
	a.meanN++
	a.meanMs += (processingMs - a.meanMs) / float64(a.meanN)
	a.meanMu.Unlock()
}

// RecordJobFailed increments failedJobs.
func (a *Aggregator) RecordJobFailed() {
	a.failedJobs.Add(1)
}

// RecordRendererRecycle increments the renderer-recycle counter.
func (a *Aggregator) RecordRendererRecycle() {
	a.rendererRecycles.Add(1)
}

// RecordBreakerTrip increments the breaker-trip counter.
func (a *Aggregator) RecordBreakerTrip() {
	a.breakerTrips.Add(1)
}

// Snapshot returns the last-computed metrics read.
func (a *Aggregator) Snapshot() Snapshot {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	return a.snap
}

// Refresh recomputes the snapshot from current counters and gauge
// sources. Called by RunLoop on its ticker, and exposed directly for
// tests that don't want to wait on a ticker.
func (a *Aggregator) Refresh() {
	a.meanMu.Lock()
	mean := a.meanMs
	a.meanMu.Unlock()

	s := Snapshot{
		TotalJobs:        a.totalJobs.Load(),
		CompletedJobs:    a.completedJobs.Load(),
		FailedJobs:       a.failedJobs.Load(),
		MeanProcessingMs: mean,
		RendererRecycles: a.rendererRecycles.Load(),
		BreakerTrips:     a.breakerTrips.Load(),
	}
	if a.sources.QueueLength != nil {
		s.QueueLength = a.sources.QueueLength()
	}
	if a.sources.ActivePrinters != nil {
		s.ActivePrinters = a.sources.ActivePrinters()
	}
	if a.sources.InFlight != nil {
		s.InFlight = a.sources.InFlight()
	}

	a.snapMu.Lock()
	a.snap = s
	a.snapMu.Unlock()
}

// RunLoop refreshes the snapshot every interval until stop is closed. Pass
// 5*time.Second per spec §4.G; callers needing a different cadence (e.g.
// tests) may pass a shorter one.
func (a *Aggregator) RunLoop(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.Refresh()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Refresh()
		}
	}
}
