// Package events provides the typed publish/subscribe bus that carries
// playback events to external consumers (UI, remote mirror, lyrics,
// auto-DJ, scrobble side effects).
package events

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Type identifies an event kind. Consumers subscribe by type.
type Type string

// Event is the interface implemented by all event payloads.
type Event interface {
	Type() Type
}

// Handler is a subscriber callback. Handlers must return quickly; slow
// consumers should hand the event off to their own goroutine.
type Handler func(Event)

// subscription binds a handler to a subscription ID.
type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous fan-out event bus. Handlers are invoked in
// subscription order on the publisher's goroutine. A panicking handler is
// recovered and logged; it does not stop delivery to other handlers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]subscription
	all         []subscription
	closed      bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Type][]subscription),
	}
}

// Subscribe registers a handler for events of the given type and returns a
// subscription ID usable with Unsubscribe.
func (b *Bus) Subscribe(t Type, h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subscribers[t] = append(b.subscribers[t], subscription{id: id, handler: h})
	return id
}

// SubscribeAll registers a handler for every event regardless of type.
func (b *Bus) SubscribeAll(h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.all = append(b.all, subscription{id: id, handler: h})
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[t] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	for i, sub := range b.all {
		if sub.id == id {
			b.all = append(b.all[:i], b.all[i+1:]...)
			return
		}
	}
}

// HasSubscribers reports whether any handler is registered for the type.
func (b *Bus) HasSubscribers(t Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t]) > 0 || len(b.all) > 0
}

// Publish delivers an event to all matching subscribers. Publishing on a
// closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := make([]subscription, len(b.subscribers[e.Type()]))
	copy(typed, b.subscribers[e.Type()])
	wildcard := make([]subscription, len(b.all))
	copy(wildcard, b.all)
	b.mu.RUnlock()

	for _, sub := range typed {
		call(sub.handler, e)
	}
	for _, sub := range wildcard {
		call(sub.handler, e)
	}
}

// call invokes a handler, recovering panics so one bad consumer cannot take
// down the transport.
func call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event handler panicked: type=%s panic=%v", e.Type(), r)
		}
	}()
	h(e)
}

// Close stops delivery. Subsequent Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[Type][]subscription)
	b.all = nil
}
