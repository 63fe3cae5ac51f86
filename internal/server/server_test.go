package server_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/server"
	"github.com/alanyoungcy/streamhub/internal/server/handler"
)

type stubPredictions struct{}

func (stubPredictions) Create(context.Context, string, []string) (domain.Prediction, error) {
	return domain.Prediction{ID: "p1", Title: "t", Options: []string{"a", "b"}}, nil
}

func (stubPredictions) Get(_ context.Context, id string) (domain.Prediction, error) {
	return domain.Prediction{ID: id}, nil
}

func (stubPredictions) Wagers(context.Context, string) ([]domain.Wager, error) { return nil, nil }

func (stubPredictions) PlaceWager(context.Context, string, string, int, int64) (domain.Wager, error) {
	return domain.Wager{ID: "w1"}, nil
}

func (stubPredictions) DeclareOutcome(context.Context, string, int) error { return nil }

type stubSettler struct{}

func (stubSettler) Settle(_ context.Context, id string) (domain.SettlementSummary, error) {
	return domain.SettlementSummary{PredictionID: id, Success: true}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := server.NewHandler(server.Config{APIKey: "admin-key"}, server.Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Status:      handler.NewStatusHandler("server", "chan", time.Now(), nil),
		Predictions: handler.NewPredictionHandler(stubPredictions{}, stubSettler{}, nil, logger),
	}, nil, nil, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes_AdminRoutesNeedKey(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusOK, call(t, "GET", srv.URL+"/api/health", "", "").StatusCode)
	assert.Equal(t, http.StatusOK, call(t, "GET", srv.URL+"/api/status", "", "").StatusCode)
	assert.Equal(t, http.StatusOK, call(t, "GET", srv.URL+"/api/predictions/p1", "", "").StatusCode)
	assert.Equal(t, http.StatusCreated,
		call(t, "POST", srv.URL+"/api/predictions/p1/wagers", "", `{"user_id":"u","option_index":0,"points":5}`).StatusCode)

	assert.Equal(t, http.StatusUnauthorized, call(t, "POST", srv.URL+"/api/predictions/p1/settle", "", "").StatusCode)
	assert.Equal(t, http.StatusOK, call(t, "POST", srv.URL+"/api/predictions/p1/settle", "admin-key", "").StatusCode)

	assert.Equal(t, http.StatusUnauthorized,
		call(t, "POST", srv.URL+"/api/predictions", "", `{"title":"t","options":["a","b"]}`).StatusCode)
	assert.Equal(t, http.StatusCreated,
		call(t, "POST", srv.URL+"/api/predictions", "admin-key", `{"title":"t","options":["a","b"]}`).StatusCode)
}

func TestRoutes_UnregisteredHandlers(t *testing.T) {
	srv := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, call(t, "GET", srv.URL+"/api/presence/lobby", "", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, call(t, "DELETE", srv.URL+"/api/predictions/p1", "", "").StatusCode)
}
