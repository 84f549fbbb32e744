package model

import "errors"

// Sentinel errors for the §7 error taxonomy. Components wrap these with
// fmt.Errorf("...: %w", Err...) so callers can still errors.Is against the
// class while getting a human-readable detail string.
var (
	// ErrValidation marks a batch or label that failed input validation.
	// Not retried; fails the submission before anything is queued.
	ErrValidation = errors.New("validation error")

	// ErrQueueFull marks admission rejected because the queue is at
	// maxQueueSize. Callers are expected to retry with jitter or drop.
	ErrQueueFull = errors.New("queue full")

	// ErrUnavailablePrinter marks a printer that is offline, erroring, or
	// unknown to the registry. Not retried by the dispatcher.
	ErrUnavailablePrinter = errors.New("printer unavailable")

	// ErrBreakerOpen marks a call rejected by an open circuit breaker.
	ErrBreakerOpen = errors.New("breaker open")

	// ErrRendererUnavailable marks a renderer pool that is not ready.
	// Transient: the dispatcher retries once after a recycle.
	ErrRendererUnavailable = errors.New("renderer unavailable")

	// ErrRenderTimeout marks a render call that exceeded its budget.
	ErrRenderTimeout = errors.New("render timeout")

	// ErrRenderFailed marks a render call that failed for a reason other
	// than timeout or unavailability.
	ErrRenderFailed = errors.New("render failed")

	// ErrSpoolFailed marks a spooler subprocess invocation that failed or
	// exited non-zero.
	ErrSpoolFailed = errors.New("spool failed")

	// ErrProcessingTimeout marks a job that crossed its hard dispatcher
	// deadline. Not retried automatically.
	ErrProcessingTimeout = errors.New("processing timeout")

	// ErrCancelled marks a job aborted by process shutdown.
	ErrCancelled = errors.New("cancelled")

	// ErrNotFound marks a lookup (job, printer) that found nothing.
	ErrNotFound = errors.New("not found")
)
