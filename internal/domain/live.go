package domain

import "time"

// LiveEventKind tags the variants of LiveEvent.
type LiveEventKind string

const (
	LiveEventNewSubscriber       LiveEventKind = "new_subscriber"
	LiveEventGiftedSubscriptions LiveEventKind = "gifted_subs"
	LiveEventUnknown             LiveEventKind = "unknown"
)

// LiveEvent is a decoded push-channel message. Exactly one of NewSubscriber
// or Gifted is set for the known kinds; Unknown events carry only Raw.
type LiveEvent struct {
	Kind          LiveEventKind        `json:"kind"`
	NewSubscriber *NewSubscriber       `json:"new_subscriber,omitempty"`
	Gifted        *GiftedSubscriptions `json:"gifted,omitempty"`
	Raw           []byte               `json:"-"`
	ReceivedAt    time.Time            `json:"received_at"`
}

// NewSubscriber is emitted when a single viewer subscribes.
type NewSubscriber struct {
	Username string `json:"username"`
}

// GiftedSubscriptions is emitted when a viewer gifts several subscriptions.
type GiftedSubscriptions struct {
	GifterUsername string `json:"gifter_username"`
	Count          int    `json:"count"`
}

// ChannelStatus is the result of one liveness poll.
type ChannelStatus struct {
	Channel   string    `json:"channel"`
	IsLive    bool      `json:"is_live"`
	CheckedAt time.Time `json:"checked_at"`
}

// ListenerState names the states of the live listener.
type ListenerState string

const (
	ListenerIdle              ListenerState = "idle"
	ListenerConnecting        ListenerState = "connecting"
	ListenerConnected         ListenerState = "connected"
	ListenerDisconnectedRetry ListenerState = "disconnected_pending_retry"
)

// ListenerSnapshot is a point-in-time view of the listener for status
// endpoints and tests.
type ListenerSnapshot struct {
	State         ListenerState `json:"state"`
	ChannelLive   bool          `json:"channel_live"`
	Connected     bool          `json:"connected"`
	RetryPending  bool          `json:"retry_pending"`
	Reconnects    int           `json:"reconnects"`
	LastPollError string        `json:"last_poll_error,omitempty"`
	LastPolledAt  time.Time     `json:"last_polled_at"`
}

// PresenceMember is one connection key present in a room.
type PresenceMember struct {
	Key      string    `json:"key"`
	LastSeen time.Time `json:"last_seen"`
}
