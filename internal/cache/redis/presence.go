package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// heartbeatLua refreshes a member's score only if it is still present and has
// not already expired. Returns 1 on refresh, 0 otherwise.
const heartbeatLua = `
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
    return 0
end
if tonumber(score) < tonumber(ARGV[3]) then
    redis.call('ZREM', KEYS[1], ARGV[1])
    return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`

// PresenceTracker implements domain.PresenceTracker with one sorted set per
// room: members are connection keys scored by their last heartbeat in
// milliseconds. Members older than the TTL are pruned on read.
type PresenceTracker struct {
	rdb         *redis.Client
	ttl         time.Duration
	heartbeatSc *redis.Script
	now         func() time.Time
}

// NewPresenceTracker creates a PresenceTracker. A non-positive ttl uses 30s.
func NewPresenceTracker(c *Client, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PresenceTracker{
		rdb:         c.Underlying(),
		ttl:         ttl,
		heartbeatSc: redis.NewScript(heartbeatLua),
		now:         time.Now,
	}
}

func presenceKey(room string) string {
	return "presence:" + room
}

// keyTTL keeps an abandoned room from living forever.
func (p *PresenceTracker) keyTTL() time.Duration {
	return 2 * p.ttl
}

// Join adds key to room, or refreshes it if already present.
func (p *PresenceTracker) Join(ctx context.Context, room, key string) error {
	rk := presenceKey(room)
	now := p.now().UnixMilli()

	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, rk, redis.Z{Score: float64(now), Member: key})
	pipe.PExpire(ctx, rk, p.keyTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: presence join %s/%s: %w", room, key, err)
	}
	return nil
}

// Heartbeat refreshes key in room. A key that never joined, left, or timed
// out returns domain.ErrNotFound and must join again.
func (p *PresenceTracker) Heartbeat(ctx context.Context, room, key string) error {
	now := p.now()
	cutoff := now.Add(-p.ttl).UnixMilli()

	res, err := p.heartbeatSc.Run(ctx, p.rdb,
		[]string{presenceKey(room)},
		key,
		now.UnixMilli(),
		cutoff,
		p.keyTTL().Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: presence heartbeat %s/%s: %w", room, key, err)
	}
	if res == 0 {
		return fmt.Errorf("redis: presence heartbeat %s/%s: %w", room, key, domain.ErrNotFound)
	}
	return nil
}

// Leave removes key from room. Leaving twice is not an error.
func (p *PresenceTracker) Leave(ctx context.Context, room, key string) error {
	if err := p.rdb.ZRem(ctx, presenceKey(room), key).Err(); err != nil {
		return fmt.Errorf("redis: presence leave %s/%s: %w", room, key, err)
	}
	return nil
}

// Members prunes expired keys and returns the rest, most recently seen last.
func (p *PresenceTracker) Members(ctx context.Context, room string) ([]domain.PresenceMember, error) {
	rk := presenceKey(room)
	cutoff := p.now().Add(-p.ttl).UnixMilli()

	// Scores equal to the cutoff are still live.
	if err := p.rdb.ZRemRangeByScore(ctx, rk, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, fmt.Errorf("redis: presence prune %s: %w", room, err)
	}

	zs, err := p.rdb.ZRangeWithScores(ctx, rk, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: presence members %s: %w", room, err)
	}
	return membersFromZ(zs), nil
}

func membersFromZ(zs []redis.Z) []domain.PresenceMember {
	members := make([]domain.PresenceMember, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, domain.PresenceMember{
			Key:      key,
			LastSeen: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return members
}

var _ domain.PresenceTracker = (*PresenceTracker)(nil)
