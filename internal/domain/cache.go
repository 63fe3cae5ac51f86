package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PresenceTracker tracks which connection keys are present in a room. A key
// that stops sending heartbeats drops out after the tracker's TTL.
type PresenceTracker interface {
	Join(ctx context.Context, room, key string) error
	Heartbeat(ctx context.Context, room, key string) error
	Leave(ctx context.Context, room, key string) error
	Members(ctx context.Context, room string) ([]PresenceMember, error)
}

// StatusCache stores the last known liveness of a channel.
type StatusCache interface {
	SetStatus(ctx context.Context, status ChannelStatus) error
	GetStatus(ctx context.Context, channel string) (ChannelStatus, error)
}
