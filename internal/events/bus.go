// Package events is the in-process event bus shared by the pipeline, the
// viewer and the systemd notifier.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// A nil bus is a no-op so components can run without one.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case PipelineStateEvent:
		event.Publish(b.dispatcher, e)
	case OverlayEvent:
		event.Publish(b.dispatcher, e)
	case RecordWrittenEvent:
		event.Publish(b.dispatcher, e)
	case SinkErrorEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type selects the event type. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e PipelineStateEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(PipelineStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OverlayEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordWrittenEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SinkErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel bridges callback subscriptions to a channel for
// select-based consumers such as SSE handlers. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
