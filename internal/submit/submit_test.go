package submit

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
)

func onlineRegistry(t *testing.T, name string) *registry.Registry {
	t.Helper()
	doc := `[{"Name":"` + name + `","PrinterStatus":0,"DriverName":"ZPL","PortName":"USB1"}]`
	r := registry.New(registry.Config{
		EnumerationCommand: "/bin/sh",
		EnumerationArgs:    []string{"-c", "echo '" + doc + "'"},
		DiscoveryTimeout:   time.Second,
	}, nil, nil)
	if err := r.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	return r
}

func validLabel(printer string) LabelInput {
	return LabelInput{
		PrinterName: printer,
		HTMLBase64:  base64.StdEncoding.EncodeToString([]byte("<html></html>")),
		Width:       "4in",
		Height:      "6in",
		Margins:     model.Margins{Top: "0", Right: "0", Bottom: "0", Left: "0"},
		Copies:      1,
	}
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{}, nil), onlineRegistry(t, "P1"), nil)
	_, err := a.Submit(context.Background(), BatchInput{})
	if err == nil {
		t.Fatalf("expected error for empty batch")
	}
}

func TestSubmitRejectsInvalidBase64(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{}, nil), onlineRegistry(t, "P1"), nil)
	l := validLabel("P1")
	l.HTMLBase64 = "not-valid-base64!!"
	_, err := a.Submit(context.Background(), BatchInput{Labels: []LabelInput{l}})
	if err == nil {
		t.Fatalf("expected validation error for bad base64")
	}
}

func TestSubmitRejectsOutOfRangeCopies(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{}, nil), onlineRegistry(t, "P1"), nil)
	l := validLabel("P1")
	l.Copies = 11
	_, err := a.Submit(context.Background(), BatchInput{Labels: []LabelInput{l}})
	if err == nil {
		t.Fatalf("expected validation error for copies out of range")
	}
}

func TestSubmitAllSuccess(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{MaxQueueSize: 10}, nil), onlineRegistry(t, "P1"), nil)
	res, err := a.Submit(context.Background(), BatchInput{Labels: []LabelInput{validLabel("P1"), validLabel("P1")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeAllSuccess || len(res.SuccessfulJobs) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitPartialWhenOnePrinterUnknown(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{MaxQueueSize: 10}, nil), onlineRegistry(t, "P_OK"), nil)
	batch := BatchInput{Labels: []LabelInput{validLabel("P_OK"), validLabel("P_MISSING"), validLabel("P_OK")}}
	res, err := a.Submit(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomePartial || len(res.SuccessfulJobs) != 2 || len(res.FailedLabels) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.FailedLabels[0].PrinterName != "P_MISSING" {
		t.Fatalf("unexpected failed label: %+v", res.FailedLabels[0])
	}
	if !strings.Contains(res.FailedLabels[0].Error, "not found") {
		t.Fatalf("expected error to mention 'not found', got %q", res.FailedLabels[0].Error)
	}
}

func TestSubmitRejectsLabelsOnceQueueFull(t *testing.T) {
	t.Parallel()
	a := New(Config{}, queue.New(queue.Config{MaxQueueSize: 1}, nil), onlineRegistry(t, "P1"), nil)
	batch := BatchInput{Labels: []LabelInput{validLabel("P1"), validLabel("P1")}}
	res, err := a.Submit(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomePartial && res.Outcome != OutcomeAllFailed {
		t.Fatalf("expected at least one rejection once queue saturates: %+v", res)
	}
}

func TestSubmitDefaultsPriorityToMedium(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{MaxQueueSize: 10}, nil)
	a := New(Config{}, q, onlineRegistry(t, "P1"), nil)
	res, err := a.Submit(context.Background(), BatchInput{Labels: []LabelInput{validLabel("P1")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job, ok := q.Get(res.SuccessfulJobs[0])
	if !ok || job.Request.Priority != model.PriorityMedium {
		t.Fatalf("expected default priority medium, got %+v ok=%v", job, ok)
	}
}
