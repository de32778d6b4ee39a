// Package events provides the in-process event bus that wires the game
// components together. Subscriptions live in a single table keyed by
// event name so app setup/teardown can attach and detach every
// cross-component handler in one place.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler consumes one published event payload.
type Handler func(payload any)

// Subscription is a handle that removes its handler when cancelled.
type Subscription struct {
	bus   *Bus
	event string
	id    int
}

// Cancel removes the subscription from the bus. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.event, s.id)
	s.bus = nil
}

// Bus is a thread-safe subscription table keyed by event name.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	table  map[string]map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{table: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for an event and returns its handle.
func (b *Bus) Subscribe(event string, h Handler) *Subscription {
	if h == nil {
		return &Subscription{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.table[event] == nil {
		b.table[event] = make(map[int]Handler)
	}
	b.table[event][id] = h

	return &Subscription{bus: b, event: event, id: id}
}

func (b *Bus) unsubscribe(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.table[event]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.table, event)
		}
	}
}

// Publish delivers the payload to every handler subscribed to the event.
// Delivery is synchronous: session and score mutations are already
// serialized upstream, and handlers must observe events in order.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.table[event]))
	for _, h := range b.table[event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("event", event).Any("panic", r).
						Msg("Event handler panicked")
				}
			}()
			h(payload)
		}()
	}
}

// SubscriberCount returns the number of handlers registered for an event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.table[event])
}

// Clear drops every subscription. Used by the reset sequence between games.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table = make(map[string]map[int]Handler)
}
