package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// ChangeForwarder republishes record-store change notifications on the
// signal bus so browsers connected to the hub see wagers and predictions
// change in real time.
type ChangeForwarder struct {
	bus    domain.SignalBus
	routes map[string]string
	logger *slog.Logger
}

// NewChangeForwarder creates a ChangeForwarder. routes maps a database
// notification channel to a bus channel; unrouted notifications are dropped.
func NewChangeForwarder(bus domain.SignalBus, routes map[string]string, logger *slog.Logger) *ChangeForwarder {
	return &ChangeForwarder{
		bus:    bus,
		routes: routes,
		logger: logger.With(slog.String("component", "change_forwarder")),
	}
}

// Handle forwards one notification.
func (f *ChangeForwarder) Handle(ctx context.Context, n domain.ChangeNotification) {
	target, ok := f.routes[n.Channel]
	if !ok {
		f.logger.DebugContext(ctx, "unrouted change notification", slog.String("channel", n.Channel))
		return
	}
	if err := f.bus.Publish(ctx, target, n.Payload); err != nil {
		f.logger.WarnContext(ctx, "forward change notification failed",
			slog.String("channel", n.Channel),
			slog.String("error", err.Error()),
		)
	}
}
