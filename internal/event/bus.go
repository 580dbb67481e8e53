// Package event provides an in-memory, filtered publish/subscribe bus for
// monitor lifecycle and code events.
package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Publisher sends events to the bus. Use this thin interface in code
// that only needs to emit events.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Subscriber registers scoped handlers on the bus.
type Subscriber interface {
	Subscribe(filter Filter, handler Handler) (unsubscribe func())
}

// Compile-time interface guards.
var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// Bus is an in-memory event bus. Publish is synchronous: handlers run in the
// caller's goroutine, in subscription order, and a panicking handler does not
// prevent delivery to the rest.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *zap.Logger
}

type subscription struct {
	id      uint64
	filter  Filter
	handler Handler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Publish dispatches an event synchronously to all subscribers whose filter
// matches it. Each handler receives its own copy of the event.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Matches(event) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.safeCall(ctx, s.handler, event)
	}
}

// Subscribe registers a handler scoped by filter. Returns an unsubscribe
// function; calling it more than once is a no-op.
func (b *Bus) Subscribe(filter Filter, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, filter: filter, handler: handler})
	b.mu.Unlock()

	return func() { b.remove(id) }
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.Subscribe(Filter{}, handler)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.String("account_id", event.AccountID),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
