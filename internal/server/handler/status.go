package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// ListenerStateSource exposes the live listener's snapshot.
type ListenerStateSource interface {
	State() domain.ListenerSnapshot
}

// StatusHandler serves the process status: mode, uptime and, when this
// process runs the listener, its state machine snapshot.
type StatusHandler struct {
	mode      string
	channel   string
	startedAt time.Time
	listener  ListenerStateSource
}

// NewStatusHandler creates a StatusHandler. listener may be nil.
func NewStatusHandler(mode, channel string, startedAt time.Time, listener ListenerStateSource) *StatusHandler {
	return &StatusHandler{mode: mode, channel: channel, startedAt: startedAt, listener: listener}
}

// GetStatus responds with the current process status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"channel":        h.channel,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.listener != nil {
		body["listener"] = h.listener.State()
	}
	writeJSON(w, http.StatusOK, body)
}
