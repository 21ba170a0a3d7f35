// Package transport abstracts the four socket roles the broker uses:
// PUB/SUB for the event bus and ROUTER/DEALER for the request channel.
// Sends are fire-and-forget; receives are callback-registered. The
// production implementation drives ZeroMQ over local IPC endpoints; the
// in-process implementation backs deterministic tests with queues.
package transport

// SubHandler receives one published message: the full topic and payload.
type SubHandler func(topic string, payload []byte)

// RouterHandler receives one request frame from a connected dealer,
// tagged with the transport-level peer identity.
type RouterHandler func(identity string, payload []byte)

// DealerHandler receives one response payload.
type DealerHandler func(payload []byte)

// Publisher binds an endpoint and broadcasts topic-tagged payloads.
type Publisher interface {
	// Send broadcasts payload under topic. Fire-and-forget: delivery to
	// slow or absent subscribers is not guaranteed.
	Send(topic string, payload []byte) error
	// Close is idempotent. Linger is zero: unsent frames are discarded.
	Close() error
}

// Subscriber connects to a publisher endpoint and receives messages whose
// topic matches a subscribed prefix.
type Subscriber interface {
	// Subscribe adds a topic prefix filter. May be called before or after
	// Start.
	Subscribe(prefix string) error
	// Start registers the receive callback and begins delivery. Messages
	// are delivered in publish order, one at a time.
	Start(h SubHandler) error
	Close() error
}

// Router binds an endpoint, accepts dealer connections, and exchanges
// single-payload frames tagged with the peer identity.
type Router interface {
	Start(h RouterHandler) error
	// Send delivers payload to the dealer with the given identity.
	Send(identity string, payload []byte) error
	Close() error
}

// Dealer connects to a router endpoint with a fixed identity.
type Dealer interface {
	Send(payload []byte) error
	Start(h DealerHandler) error
	Close() error
}

// Factory creates sockets for the four roles. The broker core is
// polymorphic over this capability set.
type Factory interface {
	NewPublisher(addr string) (Publisher, error)
	NewSubscriber(addr string, prefixes ...string) (Subscriber, error)
	NewRouter(addr string) (Router, error)
	NewDealer(addr, identity string) (Dealer, error)
}
