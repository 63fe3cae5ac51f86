package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

// liveClient connects to the server named by STREAMHUB_TEST_REDIS_URL and
// skips the test when it is unset.
func liveClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("STREAMHUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STREAMHUB_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager_Live(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "settle:" + uuid.NewString()
	t.Cleanup(func() { c.Underlying().Del(context.Background(), lockKey(key)) })

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock() // second call is a no-op

	relock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	relock()
}

func TestLockManager_LiveStaleUnlockKeepsNewHolder(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "settle:" + uuid.NewString()
	rdb := c.Underlying()
	t.Cleanup(func() { rdb.Del(context.Background(), lockKey(key)) })

	staleUnlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	// The first holder's TTL runs out and someone else takes the lock.
	require.NoError(t, rdb.Del(ctx, lockKey(key)).Err())
	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	holder, err := rdb.Get(ctx, lockKey(key)).Result()
	require.NoError(t, err)

	staleUnlock()

	got, err := rdb.Get(ctx, lockKey(key)).Result()
	require.NoError(t, err)
	assert.Equal(t, holder, got)
	_, err = lm.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	assert.Zero(t, rdb.Exists(ctx, lockKey(key)).Val())
}

func TestPresenceTracker_LiveExpiry(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	room := "room-" + uuid.NewString()
	t.Cleanup(func() { c.Underlying().Del(context.Background(), presenceKey(room)) })

	clock := time.Now()
	p := NewPresenceTracker(c, 10*time.Second)
	p.now = func() time.Time { return clock }

	require.NoError(t, p.Join(ctx, room, "conn-old"))
	clock = clock.Add(4 * time.Second)
	require.NoError(t, p.Join(ctx, room, "conn-new"))

	// conn-old was last seen exactly one TTL ago: still live at the cutoff.
	clock = clock.Add(6 * time.Second)
	members, err := p.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-old", "conn-new"}, memberKeys(members))

	clock = clock.Add(time.Millisecond)
	err = p.Heartbeat(ctx, room, "conn-old")
	require.ErrorIs(t, err, domain.ErrNotFound)
	// The expired heartbeat also removed the key.
	assert.ErrorIs(t, c.Underlying().ZScore(ctx, presenceKey(room), "conn-old").Err(), redis.Nil)

	require.NoError(t, p.Heartbeat(ctx, room, "conn-new"))
	assert.ErrorIs(t, p.Heartbeat(ctx, room, "conn-never"), domain.ErrNotFound)

	require.NoError(t, p.Leave(ctx, room, "conn-new"))
	assert.ErrorIs(t, p.Heartbeat(ctx, room, "conn-new"), domain.ErrNotFound)
}

func TestPresenceTracker_LiveMembersPrunes(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	room := "room-" + uuid.NewString()
	t.Cleanup(func() { c.Underlying().Del(context.Background(), presenceKey(room)) })

	clock := time.Now()
	p := NewPresenceTracker(c, 10*time.Second)
	p.now = func() time.Time { return clock }

	require.NoError(t, p.Join(ctx, room, "conn-a"))
	clock = clock.Add(5 * time.Second)
	require.NoError(t, p.Join(ctx, room, "conn-b"))

	clock = clock.Add(5*time.Second + time.Millisecond)
	members, err := p.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-b"}, memberKeys(members))

	n, err := c.Underlying().ZCard(ctx, presenceKey(room)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRateLimiter_LiveSlidingWindow(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 2, time.Minute)
	key := "api:" + uuid.NewString()
	t.Cleanup(func() {
		c.Underlying().Del(context.Background(), rateLimitKey(key), rateLimitKey(key)+":seq")
	})

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func memberKeys(members []domain.PresenceMember) []string {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, m.Key)
	}
	return keys
}
