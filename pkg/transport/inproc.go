package transport

import (
	"fmt"
	"strings"
	"sync"
)

// queueDepth bounds per-socket in-process queues. Matches the
// fire-and-forget contract: when a consumer is this far behind, further
// frames to it are dropped.
const queueDepth = 1024

// Compile-time check that InprocHub implements Factory.
var _ Factory = (*InprocHub)(nil)

// InprocHub is an in-process Factory implementation. All four socket roles
// are backed by queues keyed on the endpoint address, so pipeline and
// router behavior can be tested deterministically without real sockets.
//
// The hub intentionally mirrors the loose delivery contract of the ZMQ
// transport: sends never block, and frames to a closed or saturated peer
// are discarded.
type InprocHub struct {
	mu        sync.Mutex
	endpoints map[string]*inprocEndpoint
}

// inprocEndpoint is the rendezvous for one address: subscribers for a PUB
// address, or the router inbox plus per-dealer return queues for a ROUTER
// address.
type inprocEndpoint struct {
	mu      sync.Mutex
	subs    []*inprocSubscriber
	router  *inprocRouter
	dealers map[string]*inprocDealer
}

// NewInprocHub creates an empty hub.
func NewInprocHub() *InprocHub {
	return &InprocHub{endpoints: make(map[string]*inprocEndpoint)}
}

func (h *InprocHub) endpoint(addr string) *inprocEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.endpoints[addr]
	if !ok {
		ep = &inprocEndpoint{dealers: make(map[string]*inprocDealer)}
		h.endpoints[addr] = ep
	}
	return ep
}

// NewPublisher binds an in-process PUB endpoint.
func (h *InprocHub) NewPublisher(addr string) (Publisher, error) {
	return &inprocPublisher{ep: h.endpoint(addr)}, nil
}

// NewSubscriber connects an in-process SUB endpoint.
func (h *InprocHub) NewSubscriber(addr string, prefixes ...string) (Subscriber, error) {
	s := newInprocSubscriber()
	s.prefixes = append(s.prefixes, prefixes...)
	ep := h.endpoint(addr)
	ep.mu.Lock()
	ep.subs = append(ep.subs, s)
	ep.mu.Unlock()
	return s, nil
}

// NewRouter binds an in-process ROUTER endpoint. One router per address.
func (h *InprocHub) NewRouter(addr string) (Router, error) {
	ep := h.endpoint(addr)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.router != nil {
		return nil, fmt.Errorf("address %s already has a router", addr)
	}
	r := newInprocRouter(ep)
	ep.router = r
	return r, nil
}

// NewDealer connects an in-process DEALER with the given identity.
func (h *InprocHub) NewDealer(addr, identity string) (Dealer, error) {
	ep := h.endpoint(addr)
	d := newInprocDealer(ep, identity)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if _, exists := ep.dealers[identity]; exists {
		return nil, fmt.Errorf("address %s already has a dealer with identity %q", addr, identity)
	}
	ep.dealers[identity] = d
	return d, nil
}

// frame is one queued message.
type frame struct {
	topic    string // PUB/SUB only
	identity string // ROUTER only
	payload  []byte
}

// pump delivers queued frames to a handler one at a time, preserving
// enqueue order, until the queue is closed.
type pump struct {
	queue     chan frame
	startOnce sync.Once
	closeOnce sync.Once
}

func newPump() *pump {
	return &pump{queue: make(chan frame, queueDepth)}
}

func (p *pump) enqueue(f frame) {
	defer func() {
		// Send on closed queue: peer went away, frame is discarded.
		_ = recover()
	}()
	select {
	case p.queue <- f:
	default:
		// Saturated consumer: fire-and-forget drops the frame.
	}
}

func (p *pump) start(deliver func(frame)) {
	p.startOnce.Do(func() {
		go func() {
			for f := range p.queue {
				deliver(f)
			}
		}()
	})
}

func (p *pump) close() {
	p.closeOnce.Do(func() { close(p.queue) })
}

type inprocPublisher struct {
	ep        *inprocEndpoint
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (p *inprocPublisher) Send(topic string, payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil // linger=0: discard silently
	}
	p.mu.Unlock()

	p.ep.mu.Lock()
	subs := make([]*inprocSubscriber, len(p.ep.subs))
	copy(subs, p.ep.subs)
	p.ep.mu.Unlock()

	for _, s := range subs {
		if s.matches(topic) {
			s.pump.enqueue(frame{topic: topic, payload: payload})
		}
	}
	return nil
}

func (p *inprocPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})
	return nil
}

type inprocSubscriber struct {
	mu       sync.Mutex
	prefixes []string
	pump     *pump
}

func newInprocSubscriber() *inprocSubscriber {
	return &inprocSubscriber{pump: newPump()}
}

func (s *inprocSubscriber) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func (s *inprocSubscriber) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

func (s *inprocSubscriber) Start(h SubHandler) error {
	s.pump.start(func(f frame) { h(f.topic, f.payload) })
	return nil
}

func (s *inprocSubscriber) Close() error {
	s.pump.close()
	return nil
}

type inprocRouter struct {
	ep   *inprocEndpoint
	pump *pump
}

func newInprocRouter(ep *inprocEndpoint) *inprocRouter {
	return &inprocRouter{ep: ep, pump: newPump()}
}

func (r *inprocRouter) Start(h RouterHandler) error {
	r.pump.start(func(f frame) { h(f.identity, f.payload) })
	return nil
}

func (r *inprocRouter) Send(identity string, payload []byte) error {
	r.ep.mu.Lock()
	d, ok := r.ep.dealers[identity]
	r.ep.mu.Unlock()
	if !ok {
		return fmt.Errorf("no dealer with identity %q", identity)
	}
	d.pump.enqueue(frame{payload: payload})
	return nil
}

func (r *inprocRouter) Close() error {
	r.pump.close()
	return nil
}

type inprocDealer struct {
	ep       *inprocEndpoint
	identity string
	pump     *pump
}

func newInprocDealer(ep *inprocEndpoint, identity string) *inprocDealer {
	return &inprocDealer{ep: ep, identity: identity, pump: newPump()}
}

func (d *inprocDealer) Send(payload []byte) error {
	d.ep.mu.Lock()
	r := d.ep.router
	d.ep.mu.Unlock()
	if r == nil {
		return fmt.Errorf("no router bound for dealer %q", d.identity)
	}
	r.pump.enqueue(frame{identity: d.identity, payload: payload})
	return nil
}

func (d *inprocDealer) Start(h DealerHandler) error {
	d.pump.start(func(f frame) { h(f.payload) })
	return nil
}

func (d *inprocDealer) Close() error {
	d.pump.close()
	d.ep.mu.Lock()
	delete(d.ep.dealers, d.identity)
	d.ep.mu.Unlock()
	return nil
}
