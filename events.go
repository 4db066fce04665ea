package ooth

import "context"

// Listener handles one lifecycle event. Listeners run sequentially in
// registration order; the first error aborts delivery and propagates to the
// Emit caller.
type Listener func(ctx context.Context, payload Values) error

type eventBus struct {
	listeners map[string][]Listener
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[string][]Listener)}
}

func eventKey(strategy, event string) string {
	return strategy + "/" + event
}

func (b *eventBus) on(strategy, event string, l Listener) {
	key := eventKey(strategy, event)
	b.listeners[key] = append(b.listeners[key], l)
}

func (b *eventBus) emit(ctx context.Context, strategy, event string, payload Values) error {
	for _, l := range b.listeners[eventKey(strategy, event)] {
		if err := l(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// On subscribes a listener to an event emitted by the named strategy.
// Core lifecycle events are "register", "login" and "logout"; strategies
// are free to emit their own.
func (o *Ooth) On(strategy, event string, l Listener) {
	o.bus.on(strategy, event, l)
}

// Emit delivers an event to all listeners, awaiting each in turn.
func (o *Ooth) Emit(ctx context.Context, strategy, event string, payload Values) error {
	return o.bus.emit(ctx, strategy, event, payload)
}
