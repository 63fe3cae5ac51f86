// Package feed keeps the push-event socket of the tracked channel open while
// the channel is live and forwards decoded events to a sink.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/platform/streaming"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultRetryDelay   = 5 * time.Second
	deliveryBuffer      = 256
)

// StatusSource reports whether a channel is live.
type StatusSource interface {
	ChannelStatus(ctx context.Context, channel string) (domain.ChannelStatus, error)
}

// Conn is an open push-channel socket.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push-channel sockets.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// SocketDialer adapts a streaming.SocketDialer to Dialer.
func SocketDialer(d *streaming.SocketDialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Sink receives everything the listener surfaces. Calls are made from a
// single delivery goroutine, never from the state machine itself.
type Sink interface {
	Deliver(ctx context.Context, ev domain.LiveEvent)
	StatusObserved(ctx context.Context, status domain.ChannelStatus, changed bool)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Channel      string
	PollInterval time.Duration
	RetryDelay   time.Duration

	// AfterFunc overrides the retry timer; nil uses time.AfterFunc.
	AfterFunc AfterFunc
}

// Listener is the liveness-gated reconnecting listener. All state transitions
// happen on one goroutine (the loop started by Run); pollers, socket readers,
// dials and timers only post events to it. Every event re-evaluates the
// machine against the most recent liveness, so at most one socket is open or
// being dialed and at most one reconnect timer is pending at any time.
type Listener struct {
	cfg    ListenerConfig
	status StatusSource
	dialer Dialer
	sink   Sink
	logger *slog.Logger

	events     chan event
	refresh    chan struct{}
	deliveries chan delivery
	done       chan struct{}
	stopOnce   sync.Once

	// Owned by the loop goroutine.
	state       domain.ListenerState
	live        bool
	livenessSet bool
	conn        Conn
	gen         uint64
	dialing     bool
	retry       Timer
	retrySeq    uint64
	reconnects  int
	lastPollErr string
	lastPolled  time.Time

	snapMu sync.RWMutex
	snap   domain.ListenerSnapshot

	wg sync.WaitGroup
}

// NewListener creates a Listener. status may be nil when liveness is fed
// exclusively through ObserveStatus.
func NewListener(cfg ListenerConfig, status StatusSource, dialer Dialer, sink Sink, logger *slog.Logger) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	l := &Listener{
		cfg:        cfg,
		status:     status,
		dialer:     dialer,
		sink:       sink,
		logger:     logger.With(slog.String("component", "live_listener"), slog.String("channel", cfg.Channel)),
		events:     make(chan event, 64),
		refresh:    make(chan struct{}, 1),
		deliveries: make(chan delivery, deliveryBuffer),
		done:       make(chan struct{}),
		state:      domain.ListenerIdle,
	}
	l.snap = domain.ListenerSnapshot{State: domain.ListenerIdle}
	return l
}

type eventKind int

const (
	evStatus eventKind = iota
	evDialed
	evMessage
	evClosed
	evRetry
)

type event struct {
	kind   eventKind
	status domain.ChannelStatus
	err    error
	gen    uint64
	seq    uint64
	conn   Conn
	data   []byte
}

type delivery struct {
	ev      *domain.LiveEvent
	status  *domain.ChannelStatus
	changed bool
}

// Run drives the listener until ctx is cancelled. On return the socket is
// closed, any pending reconnect timer is stopped and the poll loop has exited.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "listener started",
		slog.Duration("poll_interval", l.cfg.PollInterval),
		slog.Duration("retry_delay", l.cfg.RetryDelay),
	)

	l.wg.Add(1)
	go l.deliverLoop(ctx)

	if l.status != nil {
		l.wg.Add(1)
		go l.pollLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.teardown()
			l.wg.Wait()
			l.drain()
			l.logger.Info("listener stopped")
			return nil
		case ev := <-l.events:
			l.handle(ctx, ev)
			l.publishSnapshot()
		}
	}
}

// ObserveStatus feeds one poll result into the state machine. A non-nil err
// is a poll failure: the previous liveness is kept.
func (l *Listener) ObserveStatus(status domain.ChannelStatus, err error) {
	l.post(event{kind: evStatus, status: status, err: err})
}

// Refresh asks the poll loop to poll now instead of waiting for the next tick.
func (l *Listener) Refresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

// State returns a point-in-time view of the listener.
func (l *Listener) State() domain.ListenerSnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return l.snap
}

func (l *Listener) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
		if ev.kind == evDialed && ev.conn != nil {
			_ = ev.conn.Close()
		}
	}
}

func (l *Listener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.refresh:
		}
		l.pollOnce(ctx)
	}
}

func (l *Listener) pollOnce(ctx context.Context) {
	status, err := l.status.ChannelStatus(ctx, l.cfg.Channel)
	if ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, domain.ErrPollFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrPollFailed, err)
	}
	l.ObserveStatus(status, err)
}

// handle applies one event and then reconciles.
func (l *Listener) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evStatus:
		if ev.err != nil {
			l.lastPollErr = ev.err.Error()
			l.logger.WarnContext(ctx, "channel status poll failed, keeping previous liveness",
				slog.Bool("live", l.live),
				slog.String("error", ev.err.Error()),
			)
			return
		}
		l.lastPollErr = ""
		l.lastPolled = ev.status.CheckedAt
		changed := !l.livenessSet || ev.status.IsLive != l.live
		l.livenessSet = true
		l.live = ev.status.IsLive
		if changed {
			l.logger.InfoContext(ctx, "channel liveness changed", slog.Bool("live", l.live))
		}
		st := ev.status
		l.enqueue(delivery{status: &st, changed: changed})

	case evDialed:
		l.dialing = false
		if ev.gen != l.gen || !l.live {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			break
		}
		if ev.err != nil {
			l.logger.WarnContext(ctx, "push socket connect failed",
				slog.String("error", ev.err.Error()),
			)
			l.scheduleRetry()
			break
		}
		l.conn = ev.conn
		l.logger.InfoContext(ctx, "push socket connected", slog.Int("reconnects", l.reconnects))
		l.wg.Add(1)
		go l.readLoop(ev.conn, l.gen)

	case evMessage:
		if ev.gen != l.gen || l.conn == nil {
			return
		}
		decoded, err := streaming.DecodeEvent(ev.data, time.Now().UTC())
		if err != nil {
			l.logger.WarnContext(ctx, "dropping malformed push message",
				slog.String("error", err.Error()),
			)
			return
		}
		if decoded.Kind == domain.LiveEventUnknown {
			l.logger.DebugContext(ctx, "ignoring unknown push message")
			return
		}
		l.enqueue(delivery{ev: &decoded})
		return

	case evClosed:
		if ev.gen != l.gen || l.conn == nil {
			return
		}
		_ = l.conn.Close()
		l.conn = nil
		l.gen++
		if l.live {
			l.logger.WarnContext(ctx, "push socket disconnected while live",
				slog.String("error", errString(ev.err)),
			)
			l.scheduleRetry()
		}

	case evRetry:
		if ev.seq != l.retrySeq || l.retry == nil {
			return
		}
		l.retry = nil
		if l.live && l.conn == nil && !l.dialing {
			l.reconnects++
			l.startDial(ctx)
		}
	}

	l.reconcile(ctx)
}

// reconcile brings the machine in line with the current liveness.
func (l *Listener) reconcile(ctx context.Context) {
	if !l.live {
		l.cancelRetry()
		if l.conn != nil {
			_ = l.conn.Close()
			l.conn = nil
			l.logger.InfoContext(ctx, "push socket closed, channel offline")
		}
		// Outstanding dials and readers belong to an older generation from here on.
		l.gen++
		l.state = domain.ListenerIdle
		return
	}

	switch {
	case l.conn != nil:
		l.state = domain.ListenerConnected
	case l.dialing:
		l.state = domain.ListenerConnecting
	case l.retry != nil:
		l.state = domain.ListenerDisconnectedRetry
	default:
		l.startDial(ctx)
		l.state = domain.ListenerConnecting
	}
}

func (l *Listener) startDial(ctx context.Context) {
	l.dialing = true
	l.state = domain.ListenerConnecting
	gen := l.gen
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		conn, err := l.dialer.Dial(ctx)
		l.post(event{kind: evDialed, gen: gen, conn: conn, err: err})
	}()
}

func (l *Listener) scheduleRetry() {
	if l.retry != nil {
		return
	}
	l.retrySeq++
	seq := l.retrySeq
	l.retry = l.cfg.AfterFunc(l.cfg.RetryDelay, func() {
		l.post(event{kind: evRetry, seq: seq})
	})
	l.state = domain.ListenerDisconnectedRetry
}

func (l *Listener) cancelRetry() {
	if l.retry == nil {
		return
	}
	l.retry.Stop()
	l.retry = nil
	l.retrySeq++
}

func (l *Listener) readLoop(conn Conn, gen uint64) {
	defer l.wg.Done()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			l.post(event{kind: evClosed, gen: gen, err: err})
			return
		}
		l.post(event{kind: evMessage, gen: gen, data: data})
	}
}

func (l *Listener) teardown() {
	l.stopOnce.Do(func() { close(l.done) })
	l.cancelRetry()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.gen++
	l.live = false
	l.state = domain.ListenerIdle
	l.publishSnapshot()
}

// drain closes sockets from dials that completed during teardown.
func (l *Listener) drain() {
	for {
		select {
		case ev := <-l.events:
			if ev.kind == evDialed && ev.conn != nil {
				_ = ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (l *Listener) enqueue(d delivery) {
	select {
	case l.deliveries <- d:
	default:
		l.logger.Warn("delivery queue full, dropping")
	}
}

func (l *Listener) deliverLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-l.deliveries:
			if l.sink == nil {
				continue
			}
			if d.ev != nil {
				l.sink.Deliver(ctx, *d.ev)
			}
			if d.status != nil {
				l.sink.StatusObserved(ctx, *d.status, d.changed)
			}
		}
	}
}

func (l *Listener) publishSnapshot() {
	snap := domain.ListenerSnapshot{
		State:         l.state,
		ChannelLive:   l.live,
		Connected:     l.conn != nil,
		RetryPending:  l.retry != nil,
		Reconnects:    l.reconnects,
		LastPollError: l.lastPollErr,
		LastPolledAt:  l.lastPolled,
	}
	l.snapMu.Lock()
	l.snap = snap
	l.snapMu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
