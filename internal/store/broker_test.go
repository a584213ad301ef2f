package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rujing/internal/metrics"
	"rujing/internal/models"
)

func setupRedis(t *testing.T) *redis.Client {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocalBroker_UnsubscribeIsIdempotent(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), nil)
	b := NewLocalBroker(nil, m)

	sub, err := b.Subscribe(context.Background(), "comments", EventAll)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreSubscriptions))

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StoreSubscriptions))

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// publishing after teardown must not panic on the closed channel
	require.NoError(t, b.Publish(context.Background(), Event{Collection: "comments", Type: EventTypeInsert}))
}

func TestLocalBroker_ContextCancelUnsubscribes(t *testing.T) {
	b := NewLocalBroker(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, "comments", EventAll)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not torn down after cancel")
	}
}

func TestLocalBroker_FullBufferCoalesces(t *testing.T) {
	b := NewLocalBroker(nil, nil)
	sub, err := b.Subscribe(context.Background(), "comments", EventAll)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultSubscriptionBuffer*3; i++ {
		require.NoError(t, b.Publish(context.Background(), Event{Collection: "comments", Type: EventTypeUpdate}))
	}
	assert.Len(t, sub.Events(), defaultSubscriptionBuffer)
}

func TestLocalBroker_Close(t *testing.T) {
	b := NewLocalBroker(nil, nil)
	sub, err := b.Subscribe(context.Background(), "comments", EventAll)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	<-sub.Done()

	_, err = b.Subscribe(context.Background(), "comments", EventAll)
	assert.ErrorIs(t, err, ErrBrokerClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), Event{}), ErrBrokerClosed)
}

func TestRedisBroker_FansOutAcrossBrokers(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	// two brokers sharing one redis behave like two server instances
	publisher := NewRedisBroker(client, nil, nil)
	receiver := NewRedisBroker(client, nil, nil)
	defer publisher.Close()
	defer receiver.Close()

	sub, err := receiver.Subscribe(ctx, "comments", EventInsert|EventDelete)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, Event{Collection: "comments", Type: EventTypeUpdate, Rows: 1}))
	require.NoError(t, publisher.Publish(ctx, Event{Collection: "comment_likes", Type: EventTypeInsert, Rows: 1}))
	require.NoError(t, publisher.Publish(ctx, Event{Collection: "comments", Type: EventTypeInsert, Rows: 1, Source: "other"}))

	ev := waitEvent(t, sub)
	assert.Equal(t, EventTypeInsert, ev.Type)
	assert.Equal(t, "other", ev.Source)
	assertNoEvent(t, sub)

	receiver.Unsubscribe(sub)
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestRedisBroker_BacksGormStore(t *testing.T) {
	client := setupRedis(t)
	gdb := setupTestDB(t)
	ctx := context.Background()

	writer := NewGormStore(gdb, NewRedisBroker(client, nil, nil), nil, nil, models.Comment{})
	reader := NewGormStore(gdb, NewRedisBroker(client, nil, nil), nil, nil, models.Comment{})

	sub, err := reader.Subscribe(ctx, "comments", EventAll)
	require.NoError(t, err)
	defer reader.Unsubscribe(sub)

	require.NoError(t, writer.Insert(ctx, "comments", &models.Comment{UserID: "u1", Content: "hi", CreatedAt: time.Now()}))
	assert.Equal(t, EventTypeInsert, waitEvent(t, sub).Type)
}
