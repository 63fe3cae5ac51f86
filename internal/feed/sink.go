package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// Bus channels and streams the listener publishes to.
const (
	ChannelLive      = "ch:live"
	ChannelStatus    = "ch:status"
	StreamLiveEvents = "stream:live_events"
)

// Notifier is the subset of notify.Notifier the sink uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// FanoutSink delivers live events to the notifier, the signal bus and the
// durable event stream, and records liveness in the status cache. Every
// collaborator is optional; a failing one is logged and skipped.
type FanoutSink struct {
	notifier Notifier
	bus      domain.SignalBus
	status   domain.StatusCache
	logger   *slog.Logger
}

// NewFanoutSink creates a FanoutSink.
func NewFanoutSink(notifier Notifier, bus domain.SignalBus, status domain.StatusCache, logger *slog.Logger) *FanoutSink {
	return &FanoutSink{
		notifier: notifier,
		bus:      bus,
		status:   status,
		logger:   logger.With(slog.String("component", "live_sink")),
	}
}

// Deliver implements Sink.
func (s *FanoutSink) Deliver(ctx context.Context, ev domain.LiveEvent) {
	event, title, message, ok := describe(ev)
	if !ok {
		return
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, event, title, message); err != nil {
			s.logger.WarnContext(ctx, "notify live event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal live event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, ChannelLive, payload); err != nil {
		s.logger.WarnContext(ctx, "publish live event failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, StreamLiveEvents, payload); err != nil {
		s.logger.WarnContext(ctx, "append live event failed", slog.String("error", err.Error()))
	}
}

// StatusObserved implements Sink. Every successful poll refreshes the cache;
// only transitions are published and notified.
func (s *FanoutSink) StatusObserved(ctx context.Context, status domain.ChannelStatus, changed bool) {
	if s.status != nil {
		if err := s.status.SetStatus(ctx, status); err != nil {
			s.logger.WarnContext(ctx, "cache channel status failed", slog.String("error", err.Error()))
		}
	}
	if !changed {
		return
	}

	if s.bus != nil {
		payload, err := json.Marshal(status)
		if err == nil {
			err = s.bus.Publish(ctx, ChannelStatus, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "publish channel status failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		event, title := "channel_offline", status.Channel+" is offline"
		if status.IsLive {
			event, title = "channel_live", status.Channel+" is live"
		}
		if err := s.notifier.Notify(ctx, event, title, status.CheckedAt.Format("2006-01-02 15:04:05 MST")); err != nil {
			s.logger.WarnContext(ctx, "notify channel status failed", slog.String("error", err.Error()))
		}
	}
}

func describe(ev domain.LiveEvent) (event, title, message string, ok bool) {
	switch ev.Kind {
	case domain.LiveEventNewSubscriber:
		if ev.NewSubscriber == nil {
			return "", "", "", false
		}
		return "new_subscriber", "New subscriber", ev.NewSubscriber.Username + " just subscribed", true
	case domain.LiveEventGiftedSubscriptions:
		if ev.Gifted == nil {
			return "", "", "", false
		}
		return "gifted_subs", "Gifted subscriptions",
			fmt.Sprintf("%s gifted %d subscriptions", ev.Gifted.GifterUsername, ev.Gifted.Count), true
	default:
		return "", "", "", false
	}
}
