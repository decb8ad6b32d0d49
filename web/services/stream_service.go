package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"chatdesk/chat"
	"chatdesk/web/format"

	"go.uber.org/zap"
)

const (
	StreamTypeEnd   = "end"
	StreamTypeError = "error"
)

// StreamData is one SSE frame. Reducer events keep their type names.
type StreamData struct {
	Type      string                  `json:"type"`
	SessionID string                  `json:"sessionId,omitempty"`
	Session   *format.RenderedSession `json:"session,omitempty"`
	Mode      string                  `json:"mode,omitempty"`
	Busy      *bool                   `json:"busy,omitempty"`
	Content   string                  `json:"content,omitempty"`
}

// FromEvent converts a reducer event into its wire frame.
func FromEvent(ev chat.Event) StreamData {
	busy := ev.Busy
	return StreamData{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Session:   format.Session(ev.Session),
		Mode:      string(ev.Mode),
		Busy:      &busy,
	}
}

type StreamService struct {
	logger *zap.Logger
}

func NewStreamService(logger *zap.Logger) *StreamService {
	return &StreamService{
		logger: logger,
	}
}

// PrepareSSE sets the event-stream headers.
func (ss *StreamService) PrepareSSE(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteSSEData is a helper to write SSE formatted data safely.
func (ss *StreamService) WriteSSEData(ctx context.Context, w http.ResponseWriter, data StreamData, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	if err != nil {
		return err
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// EventQueue buffers reducer events without ever blocking the publisher.
// Listeners run under the reducer's lock, so Push only appends and signals.
type EventQueue struct {
	mu     sync.Mutex
	events []chat.Event
	ready  chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{ready: make(chan struct{}, 1)}
}

// Push is a chat.Listener.
func (q *EventQueue) Push(ev chat.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value whenever events were pushed since the last Drain.
func (q *EventQueue) Ready() <-chan struct{} { return q.ready }

// Drain returns and clears the buffered events in publish order.
func (q *EventQueue) Drain() []chat.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
