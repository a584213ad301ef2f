package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"rujing/internal/metrics"
)

const defaultSubscriptionBuffer = 16

// Broker fans change events out to subscriptions.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, collection string, mask EventMask) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	Close() error
}

// Subscription is a push channel of events for one collection.
type Subscription struct {
	id         uint64
	collection string
	mask       EventMask
	events     chan Event
	done       chan struct{}

	mu     sync.Mutex
	closed bool
	stop   func()
}

func newSubscription(id uint64, collection string, mask EventMask, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Subscription{
		id:         id,
		collection: collection,
		mask:       mask,
		events:     make(chan Event, buffer),
		done:       make(chan struct{}),
	}
}

// Events is closed once the subscription is torn down.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed together with Events.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// deliver never blocks. A full buffer drops the event: one queued event
// already makes the receiver refetch everything.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ev.Collection != s.collection || !s.mask.Has(ev.Type) {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// close reports whether this call performed the teardown.
func (s *Subscription) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	stop := s.stop
	close(s.events)
	close(s.done)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	return true
}

// LocalBroker delivers events to subscribers in the same process.
type LocalBroker struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	closed  bool
	buffer  int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLocalBroker(logger *zap.Logger, m *metrics.Metrics) *LocalBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBroker{
		subs:    make(map[uint64]*Subscription),
		buffer:  defaultSubscriptionBuffer,
		logger:  logger,
		metrics: m,
	}
}

func (b *LocalBroker) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, sub := range b.subs {
		if !sub.deliver(ev) && sub.collection == ev.Collection && sub.mask.Has(ev.Type) {
			b.logger.Debug("subscriber buffer full, event coalesced",
				zap.Uint64("subscription", sub.id),
				zap.String("collection", ev.Collection),
			)
		}
	}
	return nil
}

// Subscribe registers a subscription that lives until Unsubscribe or ctx end.
func (b *LocalBroker) Subscribe(ctx context.Context, collection string, mask EventMask) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := newSubscription(b.nextID, collection, mask, b.buffer)
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.metrics.SubscriptionOpened()
	b.logger.Debug("subscription opened",
		zap.Uint64("subscription", sub.id),
		zap.String("collection", collection),
	)

	watchContext(ctx, sub, b.Unsubscribe)
	return sub, nil
}

func (b *LocalBroker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if sub.close() {
		b.metrics.SubscriptionClosed()
		b.logger.Debug("subscription closed", zap.Uint64("subscription", sub.id))
	}
}

func (b *LocalBroker) Close() error {
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

// watchContext tears sub down when ctx ends.
func watchContext(ctx context.Context, sub *Subscription, unsubscribe func(*Subscription)) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe(sub)
		case <-sub.done:
		}
	}()
}
