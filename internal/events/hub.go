// Package events implements the typed publish channel design note from
// spec §9 ("Event-emitter observers... represent as a typed publish
// channel"), adapted from the teacher's common/ws.Hub: subscribers
// register a buffered channel and receive a non-blocking broadcast; a
// slow subscriber has messages dropped for it rather than stalling the
// publisher.
package events

import "sync"

// Kind identifies which of the three job lifecycle events occurred.
type Kind string

const (
	JobCompleted Kind = "jobCompleted"
	JobFailed    Kind = "jobFailed"
	JobRetry     Kind = "jobRetry"
)

// Event is one job lifecycle notification.
type Event struct {
	Kind      Kind
	JobID     string
	Printer   string
	Detail    string
}

// Hub fans out Events to registered subscribers without blocking the
// publisher. It has no external transport dependency; internal/httpapi
// layers a websocket connection on top of a subscription, the same split
// the teacher keeps between common/ws (transport-agnostic) and
// server/websocket.go (gorilla/websocket transport).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a buffered channel under id and returns it. Callers
// must Unsubscribe when done to avoid leaking the map entry.
func (h *Hub) Subscribe(id string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Publish fans an Event out to every subscriber. A subscriber whose
// channel is full has the event dropped for it; Publish never blocks.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
