// Package submit implements the Submission Adapter of spec §4.H: batch
// validation, per-label independent admission with a hard per-label
// timeout, and the three-way success/partial/failure result the HTTP
// layer maps onto 200/207/400.
//
// Grounded on server/handlers/deps.go's handler-struct dependency
// injection shape (a thin adapter holding references to the components
// it drives, no business logic of its own beyond orchestration).
package submit

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/riveruniversity/mp-print/internal/metrics"
	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
)

// LabelInput is one label as received over the wire, before HTML
// base64-decoding.
type LabelInput struct {
	PrinterName string
	HTMLBase64  string
	Width       string
	Height      string
	Margins     model.Margins
	Orientation model.Orientation
	Copies      int
	UserID      int64
	Name        string
	Media       model.MediaClass
	Group       string
}

// BatchInput is a submission batch: one or more labels sharing a
// priority.
type BatchInput struct {
	Labels   []LabelInput
	Priority model.Priority
}

// FailedLabel describes one label that could not be admitted.
type FailedLabel struct {
	UserID      int64
	Name        string
	PrinterName string
	Error       string
}

// Outcome is the three-way admission result the HTTP layer maps to a
// status code.
type Outcome string

const (
	OutcomeAllSuccess Outcome = "all_success"
	OutcomePartial    Outcome = "partial"
	OutcomeAllFailed  Outcome = "all_failed"
)

// Result is what Submit returns: which labels were admitted and which
// failed, plus the overall outcome.
type Result struct {
	SuccessfulJobs []string
	FailedLabels   []FailedLabel
	Outcome        Outcome
}

// Config tunes the per-label admission timeout.
type Config struct {
	AdmissionTimeout time.Duration // 5s per spec
}

func (c Config) withDefaults() Config {
	if c.AdmissionTimeout <= 0 {
		c.AdmissionTimeout = 5 * time.Second
	}
	return c
}

// Adapter is the Submission Adapter: validates, explodes a batch into
// per-label jobs, and admits each independently.
type Adapter struct {
	cfg     Config
	queue   *queue.Queue
	reg     *registry.Registry
	metrics *metrics.Aggregator
}

// New creates an Adapter. agg may be nil; admission metrics are then
// simply not recorded.
func New(cfg Config, q *queue.Queue, reg *registry.Registry, agg *metrics.Aggregator) *Adapter {
	return &Adapter{cfg: cfg.withDefaults(), queue: q, reg: reg, metrics: agg}
}

// Submit validates batch and admits each label independently. A batch
// that fails validation never reaches the queue; it returns
// model.ErrValidation directly.
func (a *Adapter) Submit(ctx context.Context, batch BatchInput) (Result, error) {
	if len(batch.Labels) == 0 {
		return Result{}, fmt.Errorf("%w: batch must contain at least one label", model.ErrValidation)
	}
	priority := batch.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	for i, l := range batch.Labels {
		if err := validateLabel(l); err != nil {
			return Result{}, fmt.Errorf("%w: label %d: %v", model.ErrValidation, i, err)
		}
	}

	var result Result
	for _, l := range batch.Labels {
		jobID, admitErr := a.admitOne(ctx, l, priority)
		if admitErr != nil {
			result.FailedLabels = append(result.FailedLabels, FailedLabel{
				UserID: l.UserID, Name: l.Name, PrinterName: l.PrinterName, Error: admitErr.Error(),
			})
			continue
		}
		result.SuccessfulJobs = append(result.SuccessfulJobs, jobID)
		if a.metrics != nil {
			a.metrics.RecordJobAdmitted()
		}
	}

	switch {
	case len(result.FailedLabels) == 0:
		result.Outcome = OutcomeAllSuccess
	case len(result.SuccessfulJobs) == 0:
		result.Outcome = OutcomeAllFailed
	default:
		result.Outcome = OutcomePartial
	}
	return result, nil
}

// validateLabel checks the required-field and range constraints of
// spec §4.H, independent of registry/queue state.
func validateLabel(l LabelInput) error {
	if l.PrinterName == "" {
		return fmt.Errorf("printerName is required")
	}
	if l.Width == "" || l.Height == "" {
		return fmt.Errorf("width and height are required")
	}
	if l.Margins.Top == "" || l.Margins.Right == "" || l.Margins.Bottom == "" || l.Margins.Left == "" {
		return fmt.Errorf("all four margins are required")
	}
	if l.Copies < 1 || l.Copies > 10 {
		return fmt.Errorf("copies must be in [1,10], got %d", l.Copies)
	}
	if _, err := base64.StdEncoding.DecodeString(l.HTMLBase64); err != nil {
		return fmt.Errorf("html is not valid base64: %w", err)
	}
	return nil
}

// admitOne resolves printer availability and admits one label to the
// queue, bounded by the per-label admission timeout.
func (a *Adapter) admitOne(ctx context.Context, l LabelInput, priority model.Priority) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AdmissionTimeout)
	defer cancel()

	type admitResult struct {
		id  string
		err error
	}
	done := make(chan admitResult, 1)
	go func() {
		if _, ok := a.reg.Get(l.PrinterName); !ok {
			done <- admitResult{err: fmt.Errorf("%w: printer %q not found", model.ErrUnavailablePrinter, l.PrinterName)}
			return
		}
		if !a.reg.IsAvailable(l.PrinterName) {
			done <- admitResult{err: fmt.Errorf("%w: %s", model.ErrUnavailablePrinter, l.PrinterName)}
			return
		}
		html, _ := base64.StdEncoding.DecodeString(l.HTMLBase64) // validated already
		req := model.PrintRequest{
			Priority: priority,
			Label: model.PrintLabel{
				PrinterName: l.PrinterName,
				HTML:        html,
				Width:       l.Width,
				Height:      l.Height,
				Margins:     l.Margins,
				Orientation: l.Orientation,
				Copies:      l.Copies,
				UserID:      l.UserID,
				Name:        l.Name,
				Media:       l.Media,
				Group:       l.Group,
			},
		}
		id, err := a.queue.Admit(req)
		done <- admitResult{id: id, err: err}
	}()

	select {
	case r := <-done:
		return r.id, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("admission timed out for printer %s", l.PrinterName)
	}
}
