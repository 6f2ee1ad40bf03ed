package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/001Space/cartsync/internal/engine"
)

// EventsHandler streams cart snapshots to UI consumers over Server-Sent
// Events so they can re-render on change instead of polling.
type EventsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewEventsHandler creates the SSE handler.
func NewEventsHandler(eng *engine.Engine, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{engine: eng, logger: logger}
}

// Stream handles GET /api/v1/cart/events. The current snapshot is sent
// immediately, then one event per state change until the client
// disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := h.engine.Subscribe()
	defer cancel()

	writeEvent := func(v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(h.engine.Snapshot()) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case cart, open := <-ch:
			if !open {
				return
			}
			if !writeEvent(cart) {
				return
			}
		}
	}
}
