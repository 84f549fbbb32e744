// Package queue implements the bounded priority queue of spec §4.D: a
// priority+FIFO ordering over queued jobs, an in-flight set bounded by the
// caller's take() batches, retention-capped completed/failed maps with
// oldest-first eviction, and linear-backoff retry scheduling.
//
// Grounded on the shape of other_examples' naive priority job queue
// (container/heap-free, array-scan ordering) generalized to a real
// container/heap so Take() stays O(log n) under the queue's size bound,
// and on agent/scanner/pipeline.go's in-flight bookkeeping discipline.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riveruniversity/mp-print/internal/events"
	"github.com/riveruniversity/mp-print/internal/model"
)

// Status is a point-in-time snapshot of the queue's size buckets.
type Status struct {
	Queued    int
	InFlight  int
	Completed int
	Failed    int
}

// Config bounds the queue's capacity and retry policy.
type Config struct {
	MaxQueueSize      int
	MaxRetries        int
	RetryDelay        time.Duration
	MaxCompletedItems int
	MaxFailedItems    int
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxCompletedItems <= 0 {
		c.MaxCompletedItems = 1000
	}
	if c.MaxFailedItems <= 0 {
		c.MaxFailedItems = 500
	}
	return c
}

// item is one heap entry: a queued-but-not-yet-taken job.
type item struct {
	job   *model.PrintJob
	index int
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].job.Request.Priority.Rank(), h[j].job.Request.Priority.Rank()
	if pi != pj {
		return pi > pj // higher rank first
	}
	// FIFO within a priority: earlier admission sequence first.
	return h[i].job.Request.AdmittedSeq < h[j].job.Request.AdmittedSeq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the bounded priority job store. Safe for concurrent use; every
// mutation is serialized behind a single mutex (spec §5: "single logical
// owner; all mutations serialized").
type Queue struct {
	cfg Config
	hub *events.Hub

	mu        sync.Mutex
	pending   priorityHeap
	inFlight  map[string]*model.PrintJob
	completed map[string]*model.PrintJob
	failed    map[string]*model.PrintJob
	seq       int64

	// pendingRetries tracks scheduled re-admission timers so Close can
	// cancel them; not part of any spec invariant, just shutdown hygiene.
	pendingRetries []*time.Timer
}

// New creates an empty Queue. hub may be nil (events are then dropped).
func New(cfg Config, hub *events.Hub) *Queue {
	q := &Queue{
		cfg:       cfg.withDefaults(),
		hub:       hub,
		inFlight:  make(map[string]*model.PrintJob),
		completed: make(map[string]*model.PrintJob),
		failed:    make(map[string]*model.PrintJob),
	}
	heap.Init(&q.pending)
	return q
}

// Size returns queued+in-flight, the quantity bounded by MaxQueueSize.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() + len(q.inFlight)
}

// Admit enqueues req as a new job. Returns model.ErrQueueFull if the
// queue is already at MaxQueueSize.
func (q *Queue) Admit(req model.PrintRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitLocked(req)
}

func (q *Queue) admitLocked(req model.PrintRequest) (string, error) {
	if q.pending.Len()+len(q.inFlight) >= q.cfg.MaxQueueSize {
		return "", model.ErrQueueFull
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	q.seq++
	req.AdmittedSeq = q.seq
	if req.AdmittedAt.IsZero() {
		req.AdmittedAt = time.Now()
	}
	job := &model.PrintJob{
		ID:      uuid.NewString(),
		State:   model.JobQueued,
		Request: req,
	}
	heap.Push(&q.pending, &item{job: job})
	return job.ID, nil
}

// Take pops up to n highest-ranked queued jobs, marks each in-flight with
// a start time, and returns them. Concurrent callers see disjoint
// batches because the heap pop and in-flight insert happen under the
// same lock.
func (q *Queue) Take(n int) []*model.PrintJob {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.PrintJob, 0, n)
	for i := 0; i < n && q.pending.Len() > 0; i++ {
		it := heap.Pop(&q.pending).(*item)
		job := it.job
		job.State = model.JobProcessing
		job.StartTime = time.Now()
		q.inFlight[job.ID] = job
		out = append(out, job)
	}
	return out
}

// Complete removes id from in-flight and records it as completed or
// failed. On failure with retries remaining, it schedules re-admission of
// the same request body after retryDelay*retryCount (linear backoff, per
// spec.md's explicit pin in §9).
func (q *Queue) Complete(id string, success bool, errDetail string) {
	q.mu.Lock()
	job, ok := q.inFlight[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inFlight, id)
	job.EndTime = time.Now()
	job.LastError = errDetail

	if success {
		job.State = model.JobCompleted
		q.retainCompletedLocked(job)
		q.mu.Unlock()
		q.publish(events.JobCompleted, job, errDetail)
		return
	}

	retryCount := job.Request.RetryCount
	if retryCount < q.cfg.MaxRetries {
		job.Request.RetryCount = retryCount + 1
		delay := q.cfg.RetryDelay * time.Duration(job.Request.RetryCount)
		req := job.Request
		q.mu.Unlock()
		q.publish(events.JobRetry, job, errDetail)
		q.mu.Lock()
		t := time.AfterFunc(delay, func() {
			q.mu.Lock()
			q.admitLocked(req)
			q.mu.Unlock()
		})
		q.pendingRetries = append(q.pendingRetries, t)
		q.mu.Unlock()
		return
	}

	job.State = model.JobFailed
	q.retainFailedLocked(job)
	q.mu.Unlock()
	q.publish(events.JobFailed, job, errDetail)
}

func (q *Queue) publish(kind events.Kind, job *model.PrintJob, detail string) {
	if q.hub == nil {
		return
	}
	q.hub.Publish(events.Event{Kind: kind, JobID: job.ID, Printer: job.Request.Label.PrinterName, Detail: detail})
}

// retainCompletedLocked must be called with q.mu held.
func (q *Queue) retainCompletedLocked(job *model.PrintJob) {
	q.completed[job.ID] = job
	if len(q.completed) > q.cfg.MaxCompletedItems {
		evictOldest(q.completed, len(q.completed)-q.cfg.MaxCompletedItems)
	}
}

// retainFailedLocked must be called with q.mu held.
func (q *Queue) retainFailedLocked(job *model.PrintJob) {
	q.failed[job.ID] = job
	if len(q.failed) > q.cfg.MaxFailedItems {
		evictOldest(q.failed, len(q.failed)-q.cfg.MaxFailedItems)
	}
}

// evictOldest removes the n oldest-by-EndTime entries from m.
func evictOldest(m map[string]*model.PrintJob, n int) {
	if n <= 0 {
		return
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m[ids[i]].EndTime.Before(m[ids[j]].EndTime)
	})
	for i := 0; i < n && i < len(ids); i++ {
		delete(m, ids[i])
	}
}

// Get looks up id across in-flight, completed, failed, and queued jobs.
func (q *Queue) Get(id string) (*model.PrintJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.inFlight[id]; ok {
		return j, true
	}
	if j, ok := q.completed[id]; ok {
		return j, true
	}
	if j, ok := q.failed[id]; ok {
		return j, true
	}
	for _, it := range q.pending {
		if it.job.ID == id {
			return it.job, true
		}
	}
	return nil, false
}

// Status returns a snapshot of the queue's size buckets.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Queued:    q.pending.Len(),
		InFlight:  len(q.inFlight),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// Close cancels any pending retry timers. Safe to call once at shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.pendingRetries {
		t.Stop()
	}
	q.pendingRetries = nil
}
