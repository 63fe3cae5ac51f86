package streaming

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// Wire type tags of push-channel messages.
const (
	TypeNewSubscriber = "new_subscriber"
	TypeGiftedSubs    = "gifted_subs"
)

type envelope struct {
	Type string `json:"type"`
}

type newSubscriberMessage struct {
	Subscriber struct {
		Username string `json:"username"`
	} `json:"subscriber"`
}

type giftedSubsMessage struct {
	Gifter string `json:"gifter"`
	Count  int    `json:"count"`
}

// DecodeEvent parses one push-channel message. Messages that are not JSON
// objects, lack a type, or miss the fields of a known type return an error
// wrapping domain.ErrParse. Well-formed messages of any other type decode to
// a LiveEventUnknown event without error.
func DecodeEvent(raw []byte, receivedAt time.Time) (domain.LiveEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %w", domain.ErrParse, err)
	}
	if env.Type == "" {
		return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: missing type", domain.ErrParse)
	}

	ev := domain.LiveEvent{Raw: raw, ReceivedAt: receivedAt}

	switch env.Type {
	case TypeNewSubscriber:
		var msg newSubscriberMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %s: %w", domain.ErrParse, env.Type, err)
		}
		username := strings.TrimSpace(msg.Subscriber.Username)
		if username == "" {
			return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %s: missing subscriber.username", domain.ErrParse, env.Type)
		}
		ev.Kind = domain.LiveEventNewSubscriber
		ev.NewSubscriber = &domain.NewSubscriber{Username: username}

	case TypeGiftedSubs:
		var msg giftedSubsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %s: %w", domain.ErrParse, env.Type, err)
		}
		gifter := strings.TrimSpace(msg.Gifter)
		if gifter == "" {
			return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %s: missing gifter", domain.ErrParse, env.Type)
		}
		if msg.Count <= 0 {
			return domain.LiveEvent{}, fmt.Errorf("streaming/events: %w: %s: count %d", domain.ErrParse, env.Type, msg.Count)
		}
		ev.Kind = domain.LiveEventGiftedSubscriptions
		ev.Gifted = &domain.GiftedSubscriptions{GifterUsername: gifter, Count: msg.Count}

	default:
		ev.Kind = domain.LiveEventUnknown
	}

	return ev, nil
}
