package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// StatusCache implements domain.StatusCache with one JSON string per channel
// under live:<channel>.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatusCache creates a StatusCache. Entries expire after ttl so a dead
// listener does not leave a stale "live" behind; zero keeps them forever.
func NewStatusCache(c *Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: c.Underlying(), ttl: ttl}
}

func statusKey(channel string) string {
	return "live:" + channel
}

// SetStatus stores the latest observed status.
func (s *StatusCache) SetStatus(ctx context.Context, status domain.ChannelStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal status %s: %w", status.Channel, err)
	}
	if err := s.rdb.Set(ctx, statusKey(status.Channel), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set status %s: %w", status.Channel, err)
	}
	return nil
}

// GetStatus returns the cached status or domain.ErrNotFound.
func (s *StatusCache) GetStatus(ctx context.Context, channel string) (domain.ChannelStatus, error) {
	data, err := s.rdb.Get(ctx, statusKey(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ChannelStatus{}, fmt.Errorf("redis: status %s: %w", channel, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ChannelStatus{}, fmt.Errorf("redis: get status %s: %w", channel, err)
	}

	var st domain.ChannelStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.ChannelStatus{}, fmt.Errorf("redis: decode status %s: %w", channel, err)
	}
	return st, nil
}

var _ domain.StatusCache = (*StatusCache)(nil)
