package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an asynchronous publish-subscribe bus. Each handler invocation
// runs on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a named handler for an event type.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	b.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from an event type.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit publishes an event to every subscribed handler asynchronously.
// Emit on a nil Bus is a no-op so components can run without one.
func (b *Bus) Emit(ctx context.Context, event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	handlers := append([]handlerEntry(nil), b.handlers[event.Type]...)
	// Add under the read lock so Stop cannot observe a zero counter while
	// handlers are being scheduled.
	b.wg.Add(len(handlers))
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h handlerEntry) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				b.logger.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}(h)
	}
}

// Stop rejects further events and waits for in-flight handlers.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
