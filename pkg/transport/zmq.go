package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Compile-time check that ZMQFactory implements Factory.
var _ Factory = (*ZMQFactory)(nil)

// ZMQFactory creates ZeroMQ-backed sockets. Addresses are local IPC
// endpoints ("ipc:///run/carapace/requests.sock"); the socket directory is
// created by the caller with mode 0700.
//
// Linger is zero on close for every socket role: zmq4 exposes no linger
// option because its Close tears down the underlying connections without
// flushing queued frames — unsent frames are discarded, which is the
// close contract the broker relies on during shutdown.
type ZMQFactory struct {
	ctx context.Context
}

// NewZMQFactory creates a factory whose sockets are bound to ctx: when ctx
// is cancelled, all receive loops wind down.
func NewZMQFactory(ctx context.Context) *ZMQFactory {
	return &ZMQFactory{ctx: ctx}
}

// NewPublisher binds a PUB socket at addr.
func (f *ZMQFactory) NewPublisher(addr string) (Publisher, error) {
	sock := zmq4.NewPub(f.ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("bind PUB %s: %w", addr, err)
	}
	return &zmqPublisher{sock: sock}, nil
}

// NewSubscriber connects a SUB socket to addr with the given prefix
// filters.
func (f *ZMQFactory) NewSubscriber(addr string, prefixes ...string) (Subscriber, error) {
	sock := zmq4.NewSub(f.ctx)
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("connect SUB %s: %w", addr, err)
	}
	s := &zmqSubscriber{sock: sock}
	for _, p := range prefixes {
		if err := s.Subscribe(p); err != nil {
			sock.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRouter binds a ROUTER socket at addr.
func (f *ZMQFactory) NewRouter(addr string) (Router, error) {
	sock := zmq4.NewRouter(f.ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("bind ROUTER %s: %w", addr, err)
	}
	return &zmqRouter{sock: sock}, nil
}

// NewDealer connects a DEALER socket with a fixed identity. The identity
// is what the host's session manager binds the container to.
func (f *ZMQFactory) NewDealer(addr, identity string) (Dealer, error) {
	sock := zmq4.NewDealer(f.ctx, zmq4.WithID(zmq4.SocketIdentity(identity)))
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("connect DEALER %s: %w", addr, err)
	}
	return &zmqDealer{sock: sock}, nil
}

type zmqPublisher struct {
	sock      zmq4.Socket
	closeOnce sync.Once
}

func (p *zmqPublisher) Send(topic string, payload []byte) error {
	return p.sock.Send(zmq4.NewMsgFrom([]byte(topic), payload))
}

func (p *zmqPublisher) Close() error {
	p.closeOnce.Do(func() {
		// Close discards queued frames (linger=0, see ZMQFactory doc).
		if err := p.sock.Close(); err != nil {
			slog.Warn("Error closing PUB socket", "error", err)
		}
	})
	return nil
}

type zmqSubscriber struct {
	sock      zmq4.Socket
	closeOnce sync.Once
}

func (s *zmqSubscriber) Subscribe(prefix string) error {
	return s.sock.SetOption(zmq4.OptionSubscribe, prefix)
}

func (s *zmqSubscriber) Start(h SubHandler) error {
	go func() {
		for {
			msg, err := s.sock.Recv()
			if err != nil {
				// Socket closed or context cancelled.
				return
			}
			if len(msg.Frames) < 2 {
				continue
			}
			h(string(msg.Frames[0]), msg.Frames[1])
		}
	}()
	return nil
}

func (s *zmqSubscriber) Close() error {
	s.closeOnce.Do(func() {
		if err := s.sock.Close(); err != nil {
			slog.Warn("Error closing SUB socket", "error", err)
		}
	})
	return nil
}

type zmqRouter struct {
	sock      zmq4.Socket
	closeOnce sync.Once
}

func (r *zmqRouter) Start(h RouterHandler) error {
	go func() {
		for {
			msg, err := r.sock.Recv()
			if err != nil {
				return
			}
			frames := msg.Frames
			if len(frames) < 2 {
				continue
			}
			identity := string(frames[0])
			// REQ-compatible peers insert an empty delimiter frame.
			payload := frames[1]
			if len(payload) == 0 && len(frames) > 2 {
				payload = frames[2]
			}
			h(identity, payload)
		}
	}()
	return nil
}

func (r *zmqRouter) Send(identity string, payload []byte) error {
	return r.sock.Send(zmq4.NewMsgFrom([]byte(identity), payload))
}

func (r *zmqRouter) Close() error {
	r.closeOnce.Do(func() {
		if err := r.sock.Close(); err != nil {
			slog.Warn("Error closing ROUTER socket", "error", err)
		}
	})
	return nil
}

type zmqDealer struct {
	sock      zmq4.Socket
	closeOnce sync.Once
}

func (d *zmqDealer) Send(payload []byte) error {
	return d.sock.Send(zmq4.NewMsg(payload))
}

func (d *zmqDealer) Start(h DealerHandler) error {
	go func() {
		for {
			msg, err := d.sock.Recv()
			if err != nil {
				return
			}
			if len(msg.Frames) == 0 {
				continue
			}
			h(msg.Frames[len(msg.Frames)-1])
		}
	}()
	return nil
}

func (d *zmqDealer) Close() error {
	d.closeOnce.Do(func() {
		// Close discards queued frames (linger=0, see ZMQFactory doc).
		if err := d.sock.Close(); err != nil {
			slog.Warn("Error closing DEALER socket", "error", err)
		}
	})
	return nil
}
