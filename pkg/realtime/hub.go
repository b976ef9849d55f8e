// Package realtime fans access-configuration change events out to connected
// browser sessions, in-process over SSE and across instances over Redis
// pub/sub. Delivery is at-most-once; clients treat every event as a signal
// to refetch, so a dropped event only delays convergence until the next
// fetch.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/observability"
)

// sessionBuffer is the per-session channel depth. Events are tiny and rare;
// a session that cannot drain 8 of them is stalled and gets drops instead
// of blocking the publisher.
const sessionBuffer = 8

// Session is one subscribed client connection
type Session struct {
	ID     string
	Events <-chan access.Event
}

// Hub is the in-process fan-out point. Broadcast never blocks: a session
// whose buffer is full loses the event.
type Hub struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]chan access.Event
	closed   bool
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *observability.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Hub{
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]chan access.Event),
	}
}

// Subscribe registers a new session and returns it with an unsubscribe
// function. The caller must call unsubscribe when the connection ends.
func (h *Hub) Subscribe() (*Session, func()) {
	id := uuid.NewString()
	ch := make(chan access.Event, sessionBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return &Session{ID: id, Events: ch}, func() {}
	}
	h.sessions[id] = ch
	count := len(h.sessions)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectedSessionsActive.Set(float64(count))
	}
	h.logger.WithField("session_id", id).Debug("session subscribed")

	return &Session{ID: id, Events: ch}, func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		close(ch)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if ok && h.metrics != nil {
		h.metrics.ConnectedSessionsActive.Set(float64(count))
	}
}

// Broadcast delivers evt to every live session without blocking
func (h *Hub) Broadcast(ctx context.Context, evt access.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}

	for id, ch := range h.sessions {
		select {
		case ch <- evt:
			if h.metrics != nil {
				h.metrics.BroadcastEventsTotal.Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDroppedTotal.Inc()
			}
			h.logger.WithField("session_id", id).Debug("event dropped, session buffer full")
		}
	}
	return nil
}

// SessionCount returns the number of live sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close tears down every session. Subsequent Broadcasts are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.sessions {
		delete(h.sessions, id)
		close(ch)
	}
	if h.metrics != nil {
		h.metrics.ConnectedSessionsActive.Set(0)
	}
}
