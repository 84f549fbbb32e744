package events

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe("sub1", 4)
	h.Publish(Event{Kind: JobCompleted, JobID: "j1"})
	select {
	case e := <-ch:
		if e.JobID != "j1" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	h := NewHub()
	h.Subscribe("sub1", 1)
	// Fill the buffer, then publish again; must not block or panic.
	h.Publish(Event{Kind: JobFailed, JobID: "a"})
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Kind: JobFailed, JobID: "b"})
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe("sub1", 1)
	h.Unsubscribe("sub1")
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}
}
