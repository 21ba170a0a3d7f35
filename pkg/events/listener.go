package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fred-drake/carapace/pkg/transport"
	"github.com/fred-drake/carapace/pkg/wire"
)

// InboundHandler receives one validated inbound event payload.
type InboundHandler func(topic string, payload map[string]any)

// Listener is the subscriber side of the event bus. Every inbound event
// is validated against the canonical registry before any handler sees it;
// events with no schema or a failing payload are dropped and logged.
type Listener struct {
	sub      transport.Subscriber
	registry *Registry

	mu       sync.RWMutex
	handlers map[string][]InboundHandler
}

// NewListener creates a listener over a connected subscriber.
func NewListener(sub transport.Subscriber, registry *Registry) *Listener {
	return &Listener{
		sub:      sub,
		registry: registry,
		handlers: make(map[string][]InboundHandler),
	}
}

// OnEvent registers a handler for an inbound topic and subscribes to it.
func (l *Listener) OnEvent(topic string, h InboundHandler) error {
	l.mu.Lock()
	l.handlers[topic] = append(l.handlers[topic], h)
	l.mu.Unlock()
	return l.sub.Subscribe(topic)
}

// Start begins delivery. Handlers run on the subscriber's delivery
// goroutine, in publish order.
func (l *Listener) Start() error {
	return l.sub.Start(l.handle)
}

// Close stops delivery.
func (l *Listener) Close() error {
	return l.sub.Close()
}

func (l *Listener) handle(topic string, data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		slog.Warn("Dropping undecodable inbound event", "topic", topic, "error", err)
		return
	}
	if env.Type != wire.TypeEvent {
		slog.Warn("Dropping non-event envelope on event channel", "topic", topic, "type", env.Type)
		return
	}

	payload, ok := env.Payload.(map[string]any)
	if !ok {
		slog.Warn("Dropping inbound event with non-object payload", "topic", topic)
		return
	}
	if err := l.registry.Validate(env.Topic, payload); err != nil {
		slog.Warn("Dropping inbound event failing schema validation",
			"topic", env.Topic, "error", err)
		return
	}

	l.mu.RLock()
	handlers := l.handlers[env.Topic]
	l.mu.RUnlock()
	for _, h := range handlers {
		h(env.Topic, payload)
	}
}

// DecodePayload unmarshals a validated payload map into a typed payload
// struct.
func DecodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
