package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/server/handler"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePredictions struct {
	mu     sync.Mutex
	preds  map[string]domain.Prediction
	wagers map[string][]domain.Wager
}

func newFakePredictions() *fakePredictions {
	return &fakePredictions{preds: map[string]domain.Prediction{}, wagers: map[string][]domain.Wager{}}
}

func (f *fakePredictions) Create(_ context.Context, title string, options []string) (domain.Prediction, error) {
	if title == "" {
		return domain.Prediction{}, fmt.Errorf("create: %w", domain.ErrInvalidInput)
	}
	if len(options) < 2 {
		return domain.Prediction{}, fmt.Errorf("create: %w", domain.ErrInvalidOption)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := domain.Prediction{ID: fmt.Sprintf("p%d", len(f.preds)+1), Title: title, Options: options}
	f.preds[p.ID] = p
	return p, nil
}

func (f *fakePredictions) Get(_ context.Context, id string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.Prediction{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakePredictions) Wagers(_ context.Context, id string) ([]domain.Wager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wagers[id], nil
}

func (f *fakePredictions) PlaceWager(ctx context.Context, id, user string, idx int, points int64) (domain.Wager, error) {
	p, err := f.Get(ctx, id)
	if err != nil {
		return domain.Wager{}, err
	}
	if p.CorrectOptionIndex != nil {
		return domain.Wager{}, domain.ErrClosed
	}
	if idx < 0 || idx >= len(p.Options) {
		return domain.Wager{}, domain.ErrInvalidOption
	}
	w := domain.Wager{ID: "w-" + user, PredictionID: id, UserID: user, OptionIndex: idx, PointsWagered: points}
	f.mu.Lock()
	f.wagers[id] = append(f.wagers[id], w)
	f.mu.Unlock()
	return w, nil
}

func (f *fakePredictions) DeclareOutcome(ctx context.Context, id string, idx int) error {
	p, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(p.Options) {
		return domain.ErrInvalidOption
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CorrectOptionIndex = &idx
	f.preds[id] = p
	return nil
}

type fakeSettler struct {
	summary domain.SettlementSummary
	err     error
}

func (f *fakeSettler) Settle(_ context.Context, id string) (domain.SettlementSummary, error) {
	s := f.summary
	s.PredictionID = id
	return s, f.err
}

func do(t *testing.T, h http.HandlerFunc, method, pattern, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(method+" "+pattern, h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestPredictionHandler_Lifecycle(t *testing.T) {
	preds := newFakePredictions()
	h := handler.NewPredictionHandler(preds, &fakeSettler{}, nil, quietLogger())

	rec := do(t, h.CreatePrediction, "POST", "/api/predictions", "/api/predictions",
		`{"title":"Who wins?","options":["red","blue"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p domain.Prediction
	decode(t, rec, &p)
	assert.Equal(t, "p1", p.ID)

	rec = do(t, h.PlaceWager, "POST", "/api/predictions/{id}/wagers", "/api/predictions/p1/wagers",
		`{"user_id":"alice","option_index":0,"points":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h.PlaceWager, "POST", "/api/predictions/{id}/wagers", "/api/predictions/p1/wagers",
		`{"user_id":"bob","points":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.PlaceWager, "POST", "/api/predictions/{id}/wagers", "/api/predictions/p1/wagers",
		`{"user_id":"bob","option_index":5,"points":100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h.ListWagers, "GET", "/api/predictions/{id}/wagers", "/api/predictions/p1/wagers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ws []domain.Wager
	decode(t, rec, &ws)
	assert.Len(t, ws, 1)

	rec = do(t, h.DeclareOutcome, "POST", "/api/predictions/{id}/outcome", "/api/predictions/p1/outcome",
		`{"correct_option_index":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	require.NotNil(t, p.CorrectOptionIndex)
	assert.Equal(t, 1, *p.CorrectOptionIndex)

	rec = do(t, h.PlaceWager, "POST", "/api/predictions/{id}/wagers", "/api/predictions/p1/wagers",
		`{"user_id":"carol","option_index":0,"points":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPredictionHandler_ErrorMapping(t *testing.T) {
	preds := newFakePredictions()
	h := handler.NewPredictionHandler(preds, &fakeSettler{}, nil, quietLogger())

	rec := do(t, h.GetPrediction, "GET", "/api/predictions/{id}", "/api/predictions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h.CreatePrediction, "POST", "/api/predictions", "/api/predictions", `{"title":"","options":["a","b"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.CreatePrediction, "POST", "/api/predictions", "/api/predictions", `{"title":"x","options":["a"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h.CreatePrediction, "POST", "/api/predictions", "/api/predictions", `{"title":"x","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictionHandler_Settle(t *testing.T) {
	cases := []struct {
		name    string
		settler *fakeSettler
		code    int
	}{
		{"success", &fakeSettler{summary: domain.SettlementSummary{Success: true, Writes: 3}}, http.StatusOK},
		{"partial", &fakeSettler{
			summary: domain.SettlementSummary{Success: false, FailedWagerIDs: []string{"w2"}},
			err:     fmt.Errorf("settle: %w", domain.ErrPartialWrite),
		}, http.StatusMultiStatus},
		{"lock held", &fakeSettler{err: fmt.Errorf("settle: %w", domain.ErrLockHeld)}, http.StatusConflict},
		{"not settleable", &fakeSettler{err: fmt.Errorf("settle: %w", domain.ErrNotSettleable)}, http.StatusUnprocessableEntity},
		{"internal", &fakeSettler{err: errors.New("db exploded")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := handler.NewPredictionHandler(newFakePredictions(), tc.settler, nil, quietLogger())
			rec := do(t, h.Settle, "POST", "/api/predictions/{id}/settle", "/api/predictions/p9/settle", "")
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "db exploded")
			}
		})
	}

	h := handler.NewPredictionHandler(newFakePredictions(), cases[1].settler, nil, quietLogger())
	rec := do(t, h.Settle, "POST", "/api/predictions/{id}/settle", "/api/predictions/p9/settle", "")
	var summary domain.SettlementSummary
	decode(t, rec, &summary)
	assert.False(t, summary.Success)
	assert.Equal(t, []string{"w2"}, summary.FailedWagerIDs)
	assert.Equal(t, "p9", summary.PredictionID)
}

type fakeReports struct {
	latest map[string]string // prediction id -> path
	bodies map[string]string // path -> body
	err    error
}

func (f *fakeReports) LatestReport(_ context.Context, predictionID string) (domain.Report, error) {
	if f.err != nil {
		return domain.Report{}, f.err
	}
	path, ok := f.latest[predictionID]
	if !ok {
		return domain.Report{}, fmt.Errorf("report %s: %w", predictionID, domain.ErrNotFound)
	}
	body := f.bodies[path]
	return domain.Report{
		Path: path,
		Size: int64(len(body)),
		Body: io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestPredictionHandler_GetReportStreamsLatest(t *testing.T) {
	reports := &fakeReports{
		latest: map[string]string{"p1": "settlements/p1/20260301T000000Z.json"},
		bodies: map[string]string{"settlements/p1/20260301T000000Z.json": `{"run":3}`},
	}
	h := handler.NewPredictionHandler(newFakePredictions(), &fakeSettler{}, reports, quietLogger())

	rec := do(t, h.GetReport, "GET", "/api/predictions/{id}/report", "/api/predictions/p1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "settlements/p1/20260301T000000Z.json", rec.Header().Get("X-Report-Path"))
	assert.JSONEq(t, `{"run":3}`, rec.Body.String())

	rec = do(t, h.GetReport, "GET", "/api/predictions/{id}/report", "/api/predictions/p2/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = handler.NewPredictionHandler(newFakePredictions(), &fakeSettler{}, nil, quietLogger())
	rec = do(t, h.GetReport, "GET", "/api/predictions/{id}/report", "/api/predictions/p1/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictionHandler_GetReportBackendError(t *testing.T) {
	reports := &fakeReports{err: errors.New("connection reset")}
	h := handler.NewPredictionHandler(newFakePredictions(), &fakeSettler{}, reports, quietLogger())

	rec := do(t, h.GetReport, "GET", "/api/predictions/{id}/report", "/api/predictions/p1/report", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

type fakeTracker struct {
	mu      sync.Mutex
	members map[string]map[string]time.Time
}

func (f *fakeTracker) room(r string) map[string]time.Time {
	if f.members == nil {
		f.members = map[string]map[string]time.Time{}
	}
	if f.members[r] == nil {
		f.members[r] = map[string]time.Time{}
	}
	return f.members[r]
}

func (f *fakeTracker) Join(_ context.Context, room, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room(room)[key] = time.Now()
	return nil
}

func (f *fakeTracker) Heartbeat(_ context.Context, room, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.room(room)[key]; !ok {
		return domain.ErrNotFound
	}
	f.room(room)[key] = time.Now()
	return nil
}

func (f *fakeTracker) Leave(_ context.Context, room, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.room(room), key)
	return nil
}

func (f *fakeTracker) Members(_ context.Context, room string) ([]domain.PresenceMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PresenceMember
	for k, seen := range f.room(room) {
		out = append(out, domain.PresenceMember{Key: k, LastSeen: seen})
	}
	return out, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    []domain.StreamMessage
}

func (b *recordingBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[ch] = append(b.published[ch], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(_ context.Context, _ string, after string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > after && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestPresenceHandler_Flow(t *testing.T) {
	tracker := &fakeTracker{}
	bus := &recordingBus{}
	h := handler.NewPresenceHandler(tracker, bus, quietLogger())

	rec := do(t, h.Join, "POST", "/api/presence/{room}/join", "/api/presence/lobby/join", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var joined map[string]string
	decode(t, rec, &joined)
	require.NotEmpty(t, joined["key"])
	key := joined["key"]

	rec = do(t, h.Join, "POST", "/api/presence/{room}/join", "/api/presence/lobby/join", `{"key":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h.Heartbeat, "POST", "/api/presence/{room}/heartbeat", "/api/presence/lobby/heartbeat", `{"key":"`+key+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h.Heartbeat, "POST", "/api/presence/{room}/heartbeat", "/api/presence/lobby/heartbeat", `{"key":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h.Heartbeat, "POST", "/api/presence/{room}/heartbeat", "/api/presence/lobby/heartbeat", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h.Leave, "POST", "/api/presence/{room}/leave", "/api/presence/lobby/leave", `{"key":"fixed"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h.Members, "GET", "/api/presence/{room}", "/api/presence/lobby", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count   int                     `json:"count"`
		Members []domain.PresenceMember `json:"members"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, key, body.Members[0].Key)

	assert.Len(t, bus.published[handler.ChannelPresence], 3)
}

type fakeStatusCache struct{ st *domain.ChannelStatus }

func (f *fakeStatusCache) SetStatus(context.Context, domain.ChannelStatus) error { return nil }

func (f *fakeStatusCache) GetStatus(_ context.Context, ch string) (domain.ChannelStatus, error) {
	if f.st == nil || f.st.Channel != ch {
		return domain.ChannelStatus{}, domain.ErrNotFound
	}
	return *f.st, nil
}

func TestLiveHandler(t *testing.T) {
	cache := &fakeStatusCache{st: &domain.ChannelStatus{Channel: "chan", IsLive: true}}
	bus := &recordingBus{stream: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"kind":"new_subscriber"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"kind":"gifted_subscriptions"}`)},
	}}
	h := handler.NewLiveHandler(cache, bus, "chan", "stream:live_events", quietLogger())

	rec := do(t, h.GetLive, "GET", "/api/live", "/api/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_live":true`)

	rec = do(t, h.GetLive, "GET", "/api/live", "/api/live?channel=other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h.ListEvents, "GET", "/api/live/events", "/api/live/events?after=1-0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
		Next string `json:"next"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "3-0", page.Events[0].ID)
	assert.Equal(t, "3-0", page.Next)
}

type fakeListener struct{}

func (fakeListener) State() domain.ListenerSnapshot {
	return domain.ListenerSnapshot{State: domain.ListenerConnected, ChannelLive: true, Connected: true}
}

func TestStatusAndHealth(t *testing.T) {
	sh := handler.NewStatusHandler("full", "chan", time.Now().Add(-time.Minute), fakeListener{})
	rec := do(t, sh.GetStatus, "GET", "/api/status", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"full"`)
	assert.Contains(t, rec.Body.String(), `"listener"`)

	hh := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("refused") },
	}, quietLogger())
	rec = do(t, hh.HealthCheck, "GET", "/api/health", "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

type fakeSweeper struct{ limit int }

func (f *fakeSweeper) SettlePending(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return 2, nil
}

func TestSweepHandler(t *testing.T) {
	sw := &fakeSweeper{}
	h := handler.NewSweepHandler(sw, 25, quietLogger())
	rec := do(t, h.TriggerSweep, "POST", "/api/settlement/sweep", "/api/settlement/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, sw.limit)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`"settled":2`)))
}

type fakeAudit struct{ opts domain.ListOpts }

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return []domain.AuditEntry{{ID: 7, Event: "settlement_completed"}}, nil
}

func TestAuditHandler(t *testing.T) {
	a := &fakeAudit{}
	h := handler.NewAuditHandler(a, quietLogger())

	rec := do(t, h.ListAudit, "GET", "/api/audit", "/api/audit?limit=900&offset=10&since=2026-01-02T03:04:05Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, a.opts.Limit)
	assert.Equal(t, 10, a.opts.Offset)
	require.NotNil(t, a.opts.Since)
	assert.Equal(t, 2026, a.opts.Since.Year())
	assert.Nil(t, a.opts.Until)
	assert.Contains(t, rec.Body.String(), `"settlement_completed"`)

	rec = do(t, h.ListAudit, "GET", "/api/audit", "/api/audit?until=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
