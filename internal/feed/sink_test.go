package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/streamhub/internal/domain"
	"github.com/alanyoungcy/streamhub/internal/feed"
)

type notification struct{ event, title, message string }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event, title, message})
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
	failPub   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub {
		return errors.New("redis down")
	}
	b.published[ch] = append(b.published[ch], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeStatusCache struct {
	mu   sync.Mutex
	last map[string]domain.ChannelStatus
}

func (c *fakeStatusCache) SetStatus(_ context.Context, st domain.ChannelStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = map[string]domain.ChannelStatus{}
	}
	c.last[st.Channel] = st
	return nil
}

func (c *fakeStatusCache) GetStatus(_ context.Context, ch string) (domain.ChannelStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.last[ch]
	if !ok {
		return domain.ChannelStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func TestFanoutSink_DeliversToAllOutputs(t *testing.T) {
	n := &fakeNotifier{}
	bus := newFakeBus()
	sink := feed.NewFanoutSink(n, bus, nil, discardLogger())

	sink.Deliver(context.Background(), domain.LiveEvent{
		Kind:          domain.LiveEventNewSubscriber,
		NewSubscriber: &domain.NewSubscriber{Username: "alice"},
	})
	sink.Deliver(context.Background(), domain.LiveEvent{
		Kind:   domain.LiveEventGiftedSubscriptions,
		Gifted: &domain.GiftedSubscriptions{GifterUsername: "bob", Count: 5},
	})
	sink.Deliver(context.Background(), domain.LiveEvent{Kind: domain.LiveEventUnknown})

	require.Len(t, n.sent, 2)
	assert.Equal(t, "new_subscriber", n.sent[0].event)
	assert.Contains(t, n.sent[0].message, "alice")
	assert.Equal(t, "gifted_subs", n.sent[1].event)
	assert.Contains(t, n.sent[1].message, "bob gifted 5")

	assert.Len(t, bus.published[feed.ChannelLive], 2)
	assert.Len(t, bus.streams[feed.StreamLiveEvents], 2)
	assert.Contains(t, string(bus.published[feed.ChannelLive][0]), `"username":"alice"`)
}

func TestFanoutSink_PublishFailureStillNotifies(t *testing.T) {
	n := &fakeNotifier{}
	bus := newFakeBus()
	bus.failPub = true
	sink := feed.NewFanoutSink(n, bus, nil, discardLogger())

	sink.Deliver(context.Background(), domain.LiveEvent{
		Kind:          domain.LiveEventNewSubscriber,
		NewSubscriber: &domain.NewSubscriber{Username: "carol"},
	})
	assert.Len(t, n.sent, 1)
	assert.Len(t, bus.streams[feed.StreamLiveEvents], 1)
}

func TestFanoutSink_StatusObserved(t *testing.T) {
	n := &fakeNotifier{}
	bus := newFakeBus()
	cache := &fakeStatusCache{}
	sink := feed.NewFanoutSink(n, bus, cache, discardLogger())
	now := time.Now()

	sink.StatusObserved(context.Background(), domain.ChannelStatus{Channel: "chan", IsLive: true, CheckedAt: now}, true)
	sink.StatusObserved(context.Background(), domain.ChannelStatus{Channel: "chan", IsLive: true, CheckedAt: now.Add(time.Minute)}, false)

	st, err := cache.GetStatus(context.Background(), "chan")
	require.NoError(t, err)
	assert.True(t, st.IsLive)
	assert.True(t, st.CheckedAt.Equal(now.Add(time.Minute)))

	assert.Len(t, bus.published[feed.ChannelStatus], 1)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "channel_live", n.sent[0].event)
}
