package metrics

import (
	"testing"
	"time"
)

func TestRefreshReflectsCountersAndGauges(t *testing.T) {
	t.Parallel()
	a := New(GaugeSources{
		QueueLength:    func() int { return 7 },
		ActivePrinters: func() int { return 2 },
		InFlight:       func() int { return 3 },
	})
	a.RecordJobAdmitted()
	a.RecordJobAdmitted()
	a.RecordJobCompleted(100)
	a.RecordJobFailed()
	a.RecordRendererRecycle()
	a.RecordBreakerTrip()
	a.Refresh()

	s := a.Snapshot()
	if s.TotalJobs != 2 || s.CompletedJobs != 1 || s.FailedJobs != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.QueueLength != 7 || s.ActivePrinters != 2 || s.InFlight != 3 {
		t.Fatalf("unexpected gauges: %+v", s)
	}
	if s.RendererRecycles != 1 || s.BreakerTrips != 1 {
		t.Fatalf("unexpected event counters: %+v", s)
	}
	if s.MeanProcessingMs != 100 {
		t.Fatalf("unexpected mean: %v", s.MeanProcessingMs)
	}
}

func TestWelfordMeanConverges(t *testing.T) {
	t.Parallel()
	a := New(GaugeSources{})
	samples := []float64{10, 20, 30, 40, 50}
	for _, s := range samples {
		a.RecordJobCompleted(s)
	}
	a.Refresh()
	got := a.Snapshot().MeanProcessingMs
	if got < 29.9 || got > 30.1 {
		t.Fatalf("expected mean ~30, got %v", got)
	}
}

func TestSnapshotBeforeRefreshIsZeroValue(t *testing.T) {
	t.Parallel()
	a := New(GaugeSources{})
	s := a.Snapshot()
	if s.TotalJobs != 0 || s.QueueLength != 0 {
		t.Fatalf("expected zero-value snapshot before first refresh, got %+v", s)
	}
}

func TestRunLoopRefreshesOnTickerUntilStopped(t *testing.T) {
	t.Parallel()
	a := New(GaugeSources{QueueLength: func() int { return 5 }})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		a.RunLoop(stop, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for a.Snapshot().QueueLength != 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if a.Snapshot().QueueLength != 5 {
		t.Fatalf("expected RunLoop to have refreshed the snapshot")
	}
	close(stop)
	<-done
}
