package nats

import (
	"log/slog"
	"sync"

	"github.com/smazurov/posenode/internal/events"
)

// Forwarder publishes event bus events to NATS so other hosts can follow the node.
type Forwarder struct {
	bus    *events.Bus
	client *Client
	logger *slog.Logger
	mu     sync.Mutex
	unsubs []func()
}

// NewForwarder creates an event-bus-to-NATS forwarder.
func NewForwarder(bus *events.Bus, client *Client, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		bus:    bus,
		client: client,
		logger: logger.With("component", "nats-forwarder"),
	}
}

// Start subscribes to state and sink error events.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unsubs != nil {
		return
	}

	f.unsubs = append(f.unsubs,
		f.bus.Subscribe(f.handleState),
		f.bus.Subscribe(f.handleSinkError),
	)
	f.logger.Debug("Forwarding events to NATS")
}

func (f *Forwarder) handleState(e events.PipelineStateEvent) {
	f.client.PublishState(StateMessage{
		State:     e.State,
		Previous:  e.Previous,
		Reason:    e.Reason,
		Timestamp: e.Timestamp,
	})
}

func (f *Forwarder) handleSinkError(e events.SinkErrorEvent) {
	f.client.PublishSinkError(SinkErrorMessage{
		Measurement: e.Measurement,
		Error:       e.Error,
		Timestamp:   e.Timestamp,
	})
}

// Stop unsubscribes from the event bus.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, unsub := range f.unsubs {
		unsub()
	}
	f.unsubs = nil
}
