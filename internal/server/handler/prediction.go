package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// PredictionService is the prediction lifecycle the handler drives.
type PredictionService interface {
	Create(ctx context.Context, title string, options []string) (domain.Prediction, error)
	Get(ctx context.Context, id string) (domain.Prediction, error)
	Wagers(ctx context.Context, id string) ([]domain.Wager, error)
	PlaceWager(ctx context.Context, predictionID, userID string, optionIndex int, points int64) (domain.Wager, error)
	DeclareOutcome(ctx context.Context, id string, correctOptionIndex int) error
}

// Settler settles one prediction.
type Settler interface {
	Settle(ctx context.Context, predictionID string) (domain.SettlementSummary, error)
}

// PredictionHandler serves prediction, wager and settlement endpoints.
type PredictionHandler struct {
	predictions PredictionService
	settler     Settler
	reports     domain.ReportReader
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler. reports may be nil when
// object storage is not configured.
func NewPredictionHandler(predictions PredictionService, settler Settler, reports domain.ReportReader, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		settler:     settler,
		reports:     reports,
		logger:      logHandler(logger, "prediction"),
	}
}

type createPredictionRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

// CreatePrediction opens a new prediction.
// POST /api/predictions
func (h *PredictionHandler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req createPredictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.predictions.Create(r.Context(), req.Title, req.Options)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPrediction returns a prediction by ID.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := h.predictions.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListWagers returns every wager on a prediction.
// GET /api/predictions/{id}/wagers
func (h *PredictionHandler) ListWagers(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.predictions.Get(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	ws, err := h.predictions.Wagers(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if ws == nil {
		ws = []domain.Wager{}
	}
	writeJSON(w, http.StatusOK, ws)
}

type placeWagerRequest struct {
	UserID      string `json:"user_id"`
	OptionIndex *int   `json:"option_index"`
	Points      int64  `json:"points"`
}

// PlaceWager stakes points on an option of an open prediction.
// POST /api/predictions/{id}/wagers
func (h *PredictionHandler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req placeWagerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OptionIndex == nil {
		writeError(w, http.StatusBadRequest, "option_index is required")
		return
	}
	wager, err := h.predictions.PlaceWager(r.Context(), pathParam(r, "id"), req.UserID, *req.OptionIndex, req.Points)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, wager)
}

type declareOutcomeRequest struct {
	CorrectOptionIndex *int `json:"correct_option_index"`
}

// DeclareOutcome records the correct option and closes the prediction.
// POST /api/predictions/{id}/outcome
func (h *PredictionHandler) DeclareOutcome(w http.ResponseWriter, r *http.Request) {
	var req declareOutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CorrectOptionIndex == nil {
		writeError(w, http.StatusBadRequest, "correct_option_index is required")
		return
	}
	id := pathParam(r, "id")
	if err := h.predictions.DeclareOutcome(r.Context(), id, *req.CorrectOptionIndex); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	p, err := h.predictions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Settle distributes the pool of a declared prediction. A run where some
// payout writes failed answers 207 with the summary listing the failures.
// POST /api/predictions/{id}/settle
func (h *PredictionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	summary, err := h.settler.Settle(r.Context(), pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrPartialWrite) {
			writeJSON(w, http.StatusMultiStatus, summary)
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetReport streams the most recent archived settlement report.
// GET /api/predictions/{id}/report
func (h *PredictionHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report storage is not configured")
		return
	}

	report, err := h.reports.LatestReport(r.Context(), pathParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no settlement report")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer report.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Report-Path", report.Path)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, report.Body); err != nil {
		h.logger.WarnContext(r.Context(), "stream report failed",
			slog.String("path", report.Path),
			slog.String("error", err.Error()),
		)
	}
}
