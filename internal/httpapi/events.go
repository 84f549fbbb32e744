package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riveruniversity/mp-print/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEventMessage is the wire frame for one job lifecycle event, the same
// {type, data, timestamp} envelope server/websocket.go uses for its own
// WSMessage.
type wsEventMessage struct {
	Type      events.Kind            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// handleEventStream implements GET /api/print/ws/events: an operator-
// visibility feed of jobCompleted/jobFailed/jobRetry events. Not rate
// limited or timeout-wrapped like the REST routes since it is meant to
// stay open; grounded on server/websocket.go's per-connection ping loop
// to detect half-open TCP connections.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID := r.RemoteAddr + "-" + time.Now().UTC().Format(time.RFC3339Nano)
	ch := a.hub.Subscribe(subID, 64)
	defer a.hub.Unsubscribe(subID)

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	// A blocked ReadMessage call is how gorilla/websocket surfaces the
	// peer closing the connection; run it on its own goroutine so the
	// main loop can keep selecting on events and pings.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg := wsEventMessage{
				Type: e.Kind,
				Data: map[string]interface{}{
					"jobId":   e.JobID,
					"printer": e.Printer,
					"detail":  e.Detail,
				},
				Timestamp: time.Now().UTC(),
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
