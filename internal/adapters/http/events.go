package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"licensure/internal/adapters/http/middleware"
	"licensure/internal/domain/filter"
)

// ChangeEvent is the server-sent event name for filter changes.
const ChangeEvent = "filters:change"

// streamBuffer is how many changes a slow stream may lag before dropping.
const streamBuffer = 16

// StreamHeartbeat is how often an idle stream sends a comment line.
var StreamHeartbeat = 25 * time.Second

// changePayload is the data of one ChangeEvent.
type changePayload struct {
	State filter.State `json:"state"`
}

func writeChange(w io.Writer, state filter.State) error {
	data, err := json.Marshal(changePayload{State: state})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ChangeEvent, data)
	return err
}

// handleFilterEvents streams the visitor's filter changes. The current state
// is sent first so a client never starts from a stale view.
// Routes: GET /api/filters/events
func (s *server) handleFilterEvents(w http.ResponseWriter, r *http.Request) {
	visitorID, ok := middleware.VisitorFromContext(r.Context())
	if !ok {
		http.Error(w, "visitor cookie required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	rc := http.NewResponseController(w)

	changes, cancel := s.deps.Hub.Subscribe(visitorID, streamBuffer)
	defer cancel()
	if m := s.deps.Metrics; m != nil {
		m.StreamsActive.Inc()
		defer m.StreamsActive.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeChange(w, s.deps.Filters.For(ctx, visitorID).Get(ctx)); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		slog.Warn("stream_flush_unsupported", "error", err)
		return
	}
	slog.Debug("stream_opened", "visitor_id", visitorID)

	heartbeat := time.NewTicker(StreamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream_closed", "visitor_id", visitorID)
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := writeChange(w, c.State); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
