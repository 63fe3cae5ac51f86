package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Sweeper settles every declared, unsettled prediction.
type Sweeper interface {
	SettlePending(ctx context.Context, limit int) (int, error)
}

// SweepHandler triggers an out-of-schedule settlement sweep.
type SweepHandler struct {
	sweeper Sweeper
	batch   int
	logger  *slog.Logger
}

// NewSweepHandler creates a SweepHandler settling at most batch predictions
// per request.
func NewSweepHandler(sweeper Sweeper, batch int, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, batch: batch, logger: logHandler(logger, "sweep")}
}

// TriggerSweep runs one sweep and reports how many predictions settled.
// POST /api/settlement/sweep
func (h *SweepHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "settlement sweep requested")
	n, err := h.sweeper.SettlePending(r.Context(), h.batch)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settled":      n,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
