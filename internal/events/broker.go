package events

import (
	"context"
	"sync"
)

// DefaultChannel is the shared channel every process publishes to.
const DefaultChannel = "bingo:events"

// Handler receives envelopes from a subscription. It must not block.
type Handler func(Envelope)

// Publisher sends envelopes to every subscribed process.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscriber delivers envelopes to handler until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// Broker is a publish/subscribe transport. Delivery is at-most-once.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// MemoryBroker delivers envelopes within one process.
type MemoryBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	closed   bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[int]Handler)}
}

// Publish calls every handler synchronously. Handler order is unspecified.
func (b *MemoryBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Subscribe blocks until ctx is done.
func (b *MemoryBroker) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}

// Subscribers reports how many handlers are registered.
func (b *MemoryBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.handlers)
	return nil
}
