package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"rujing/internal/metrics"
)

const defaultChannelPrefix = "store:"

// RedisBroker fans events out through redis pub/sub so that views served by
// other instances see writes made here.
type RedisBroker struct {
	client  *redis.Client
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger, m *metrics.Metrics) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{
		client:  client,
		prefix:  defaultChannelPrefix,
		logger:  logger,
		metrics: m,
		subs:    make(map[uint64]*Subscription),
	}
}

func (b *RedisBroker) channel(collection string) string {
	return b.prefix + collection
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, b.channel(ev.Collection), payload).Err()
}

// Subscribe returns once redis has confirmed the channel subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, collection string, mask EventMask) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, b.channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	sub := newSubscription(id, collection, mask, defaultSubscriptionBuffer)
	sub.stop = func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("failed to close redis subscription", zap.Error(err))
		}
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	b.metrics.SubscriptionOpened()

	go b.forward(sub, pubsub.Channel())
	watchContext(ctx, sub, b.Unsubscribe)

	b.logger.Debug("redis subscription opened",
		zap.Uint64("subscription", id),
		zap.String("channel", b.channel(collection)),
	)
	return sub, nil
}

func (b *RedisBroker) forward(sub *Subscription, messages <-chan *redis.Message) {
	for msg := range messages {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("dropping malformed change event",
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
			continue
		}
		sub.deliver(ev)
	}
}

func (b *RedisBroker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if sub.close() {
		b.metrics.SubscriptionClosed()
	}
}

// Close tears down every subscription. The redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.Unsubscribe(sub)
	}
	return nil
}
