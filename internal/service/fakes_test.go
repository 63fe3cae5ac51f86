package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

type memPredictions struct {
	mu      sync.Mutex
	byID    map[string]domain.Prediction
	settled map[string]time.Time
}

func newMemPredictions(ps ...domain.Prediction) *memPredictions {
	m := &memPredictions{byID: map[string]domain.Prediction{}, settled: map[string]time.Time{}}
	for _, p := range ps {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memPredictions) Create(_ context.Context, p domain.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.byID[p.ID] = p
	return nil
}

func (m *memPredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPredictions) DeclareOutcome(_ context.Context, id string, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if idx < 0 || idx >= len(p.Options) {
		return domain.ErrInvalidOption
	}
	p.CorrectOptionIndex = &idx
	m.byID[id] = p
	return nil
}

func (m *memPredictions) MarkSettled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[id] = at
	p := m.byID[id]
	p.SettledAt = &at
	m.byID[id] = p
	return nil
}

func (m *memPredictions) ListUnsettled(_ context.Context, limit int) ([]domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Prediction
	for _, p := range m.byID {
		if p.CorrectOptionIndex != nil && p.SettledAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPredictions) isSettled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settled[id]
	return ok
}

type memWagers struct {
	mu      sync.Mutex
	wagers  []domain.Wager
	written map[string]int64
	failFor map[string]bool
	listErr error
}

func newMemWagers(ws ...domain.Wager) *memWagers {
	return &memWagers{wagers: ws, written: map[string]int64{}, failFor: map[string]bool{}}
}

func (m *memWagers) Create(_ context.Context, w domain.Wager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wagers = append(m.wagers, w)
	return nil
}

func (m *memWagers) ListByPrediction(_ context.Context, predictionID string) ([]domain.Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Wager
	for _, w := range m.wagers {
		if w.PredictionID == predictionID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWagers) SetPointsWon(_ context.Context, wagerID string, pointsWon int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[wagerID] {
		return errors.New("connection reset")
	}
	m.written[wagerID] = pointsWon
	return nil
}

func (m *memWagers) writes() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.written))
	for k, v := range m.written {
		out[k] = v
	}
	return out
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memReports struct {
	mu      sync.Mutex
	reports []domain.SettlementSummary
}

func (r *memReports) PutReport(_ context.Context, summary domain.SettlementSummary) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, summary)
	return "settlements/" + summary.PredictionID + "/" + summary.SettledAt.Format("20060102T150405Z") + ".json", nil
}

func (r *memReports) forPrediction(id string) []domain.SettlementSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SettlementSummary
	for _, s := range r.reports {
		if s.PredictionID == id {
			out = append(out, s)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}
