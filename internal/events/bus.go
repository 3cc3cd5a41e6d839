package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	handler HandlerFunc
}

// Bus is an asynchronous publish-subscribe dispatcher. Handlers run in
// their own goroutines; a slow Discord post or MQTT publish must never
// stall the XMPP read loop that emitted the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscriber
	stopped bool
	wg      sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]subscriber)}
}

// Subscribe registers a named handler for an event type. The name only
// shows up in logs.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscriber{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Emit delivers an event to every subscriber asynchronously. Handler errors
// and panics are logged, never propagated.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	for _, sub := range b.subs[event.Type] {
		sub := sub
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.run(ctx, sub, event)
		}()
	}
}

// EmitSync delivers an event and waits for every subscriber to finish,
// returning the first handler error. Used by tests and shutdown paths that
// need completion guarantees.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return nil
	}
	subs := make([]subscriber, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	var (
		firstErr error
		once     sync.Once
		wg       sync.WaitGroup
	)
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx, sub, event); err != nil {
				once.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (b *Bus) run(ctx context.Context, sub subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", sub.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	if err = sub.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", sub.name).
			Msg("event handler returned error")
	}
	return err
}

// Stop rejects further events and waits for in-flight handlers.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// SubscriberCount returns how many handlers are registered for a type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
