package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/riveruniversity/mp-print/internal/breaker"
	"github.com/riveruniversity/mp-print/internal/metrics"
	"github.com/riveruniversity/mp-print/internal/model"
	"github.com/riveruniversity/mp-print/internal/queue"
	"github.com/riveruniversity/mp-print/internal/registry"
)

func TestInjectPrintCSSSkipsWhenAlreadyPresent(t *testing.T) {
	t.Parallel()
	html := []byte("<html><head><style>@page { size: 4in 6in; }</style></head><body></body></html>")
	out := injectPrintCSS(html, "4in", "6in", model.Margins{})
	if string(out) != string(html) {
		t.Fatalf("expected html with existing @page left untouched")
	}
}

func TestInjectPrintCSSInsertsBeforeHead(t *testing.T) {
	t.Parallel()
	html := []byte("<html><head><title>x</title></head><body></body></html>")
	out := injectPrintCSS(html, "4in", "6in", model.Margins{Top: "0.1in"})
	s := string(out)
	if !strings.Contains(s, "size: 4in 6in") || !strings.Contains(s, "</head>") || strings.Index(s, "@page") < 0 || strings.Index(s, "@page") > strings.Index(s, "</head>") {
		t.Fatalf("expected injected @page block before </head>, got %s", s)
	}
}

func fakeRegistryWithOnlinePrinter(t *testing.T, name string) *registry.Registry {
	t.Helper()
	doc := fmt.Sprintf(`[{"Name":"%s","PrinterStatus":0,"DriverName":"ZPL","PortName":"USB1"}]`, name)
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

func TestRunTaskFailsUnavailablePrinter(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{MaxQueueSize: 10}, nil)
	reg := registry.New(registry.Config{
		EnumerationCommand: "/bin/sh",
		EnumerationArgs:    []string{"-c", "echo '[]'"},
		DiscoveryTimeout:   time.Second,
	}, nil, nil)
	reg.Discover(context.Background())
	brokers := breaker.NewSet(breaker.DefaultConfig())
	agg := metrics.New(metrics.GaugeSources{})

	d := New(Config{}, q, reg, brokers, nil, nil, agg, nil)

	id, _ := q.Admit(model.PrintRequest{Priority: model.PriorityMedium, Label: model.PrintLabel{PrinterName: "NOPE", Copies: 1}})
	job := q.Take(1)[0]
	if id != job.ID {
		t.Fatalf("expected Admit and Take to report the same job id, got %s vs %s", id, job.ID)
	}

	d.tasks.Add(1)
	d.runTask(context.Background(), job)

	got, ok := q.Get(job.ID)
	if !ok || got.State != model.JobFailed {
		t.Fatalf("expected job failed for unavailable printer, got %+v ok=%v", got, ok)
	}
}

func TestRunTaskFailsWhenBreakerOpen(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{MaxQueueSize: 10}, nil)
	reg := fakeRegistryWithOnlinePrinter(t, "P1")
	brokers := breaker.NewSet(breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	brokers.For("P1").RecordFailure() // trips the breaker
	agg := metrics.New(metrics.GaugeSources{})

	d := New(Config{}, q, reg, brokers, nil, nil, agg, nil)

	q.Admit(model.PrintRequest{Priority: model.PriorityMedium, Label: model.PrintLabel{PrinterName: "P1", Copies: 1}})
	job := q.Take(1)[0]

	d.tasks.Add(1)
	d.runTask(context.Background(), job)

	got, ok := q.Get(job.ID)
	if !ok || got.State != model.JobFailed {
		t.Fatalf("expected job failed while breaker open, got %+v ok=%v", got, ok)
	}
}

func TestTickRespectsMaxConcurrentJobs(t *testing.T) {
	t.Parallel()
	q := queue.New(queue.Config{MaxQueueSize: 10}, nil)
	reg := registry.New(registry.Config{
		EnumerationCommand: "/bin/sh",
		EnumerationArgs:    []string{"-c", "echo '[]'"},
		DiscoveryTimeout:   time.Second,
	}, nil, nil)
	reg.Discover(context.Background())
	brokers := breaker.NewSet(breaker.DefaultConfig())
	agg := metrics.New(metrics.GaugeSources{})

	d := New(Config{MaxConcurrentJobs: 2, BatchSize: 5}, q, reg, brokers, nil, nil, agg, nil)
	for i := 0; i < 5; i++ {
		q.Admit(model.PrintRequest{Priority: model.PriorityMedium, Label: model.PrintLabel{PrinterName: "NOPE", Copies: 1}})
	}

	d.tick(context.Background())
	if d.InFlight() > 2 {
		t.Fatalf("expected at most MaxConcurrentJobs in flight immediately after tick, got %d", d.InFlight())
	}

	deadline := time.Now().Add(time.Second)
	for d.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected in-flight count to drain back to 0 once tasks settle")
	}
}
