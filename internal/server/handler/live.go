package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// LiveHandler serves the last known channel status and the recent live event
// history.
type LiveHandler struct {
	status  domain.StatusCache
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewLiveHandler creates a LiveHandler reading events from stream.
func NewLiveHandler(status domain.StatusCache, bus domain.SignalBus, channel, stream string, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		status:  status,
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logHandler(logger, "live"),
	}
}

// GetLive returns the cached liveness of the tracked channel, or of the
// channel named by ?channel=.
// GET /api/live
func (h *LiveHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = h.channel
	}
	st, err := h.status.GetStatus(r.Context(), channel)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type liveEventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns live events from the durable stream after ?after=
// (default: from the beginning), at most ?limit= (default 50, max 500).
// GET /api/live/events
func (h *LiveHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := queryInt(r, "limit", 50, 500)

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	out := make([]liveEventEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, liveEventEntry{ID: m.ID, Event: m.Payload})
	}

	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"next":   next,
	})
}
