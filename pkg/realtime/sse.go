package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brightpath/pdcore/pkg/observability"
)

// keepAliveInterval is how often a comment line is written to detect dead
// connections through proxies that silently drop idle streams
const keepAliveInterval = 25 * time.Second

// SSEHandler streams access change events to a browser session as
// Server-Sent Events
type SSEHandler struct {
	hub    *Hub
	logger *observability.Logger
}

// NewSSEHandler creates the event-stream handler
func NewSSEHandler(hub *Hub, logger *observability.Logger) *SSEHandler {
	return &SSEHandler{hub: hub, logger: logger}
}

// ServeHTTP implements the GET /events stream. The connection stays open
// until the client goes away or the server shuts the hub down.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	session, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Initial comment so the client sees the stream is live immediately
	fmt.Fprintf(w, ": connected session=%s\n\n", session.ID)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	log := h.logger.WithField("session_id", session.ID)
	for {
		select {
		case <-r.Context().Done():
			log.Debug("session disconnected")
			return

		case evt, open := <-session.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				log.WithError(err).Error("failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, payload)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
