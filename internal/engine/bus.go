package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/mediakit/internal/media"
)

// Bus is the in-process event bridge. Events are delivered synchronously on
// the emitting goroutine, so the order of one engine's events is preserved.
type Bus struct {
	mu       sync.RWMutex
	handlers map[ID]Handler
}

var (
	_ Bridge  = (*Bus)(nil)
	_ Emitter = (*Bus)(nil)
)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[ID]Handler)}
}

// Subscribe registers the single handler for id.
func (b *Bus) Subscribe(id ID, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[id]; exists {
		return nil, fmt.Errorf("instance %d already has an event handler", id)
	}
	b.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

// Emit delivers e to the handler of id. Events for unknown ids are dropped.
func (b *Bus) Emit(id ID, e media.Event) {
	b.mu.RLock()
	h, ok := b.handlers[id]
	b.mu.RUnlock()

	if !ok {
		slog.Debug("Dropping event for unknown instance", "id", id, "event", e.Name())
		return
	}
	h(e)
}

// Publish decodes an untyped payload and emits it.
func (b *Bus) Publish(id ID, p media.Payload) error {
	e, err := media.Decode(p)
	if err != nil {
		return fmt.Errorf("instance %d: %w", id, err)
	}
	b.Emit(id, e)
	return nil
}

// Len reports the number of subscribed instances.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
