// Package sse provides a Server-Sent Events handler streaming engine
// events to HTTP clients. The frontend keeps one connection open and
// receives run_state and node_status events for every run.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blockflow/blockflow/bus"
)

// DefaultHeartbeatInterval is the interval between SSE heartbeat comments.
const DefaultHeartbeatInterval = 15 * time.Second

// Handler serves an SSE stream of engine events fed by the event bus.
// Without a query parameter the stream carries all runs; an optional
// "run" query parameter narrows it to one run id.
//
// SSE format:
//
//	id: {seq}
//	event: {type}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every HeartbeatInterval. The
// stream stays open across runs and closes when the client disconnects
// or the bus shuts down.
type Handler struct {
	bus       bus.EventBus
	heartbeat time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeatInterval overrides the heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewHandler creates an SSE handler over the given event bus.
func NewHandler(eb bus.EventBus, opts ...Option) *Handler {
	h := &Handler{
		bus:       eb,
		heartbeat: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var sub bus.Subscription
	if runID := r.URL.Query().Get("run"); runID != "" {
		sub = h.bus.Subscribe(runID)
	} else {
		sub = h.bus.SubscribeAll()
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				// Bus shut down.
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, data); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
