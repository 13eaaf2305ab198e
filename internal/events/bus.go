package events

import "sync"

// Handler consumes one event. Handlers run synchronously on the publisher's
// goroutine; slow consumers should hand off internally.
type Handler func(Event)

// Bus is a minimal in-process observer registry. The core publishes to it
// without knowing who listens (UI, notifier, tests).
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish delivers the event to all handlers registered for its type.
// Publishing on a nil bus is a no-op so components can run without wiring.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.subs[e.EventType()]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
