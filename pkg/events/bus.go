package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fred-drake/carapace/pkg/transport"
	"github.com/fred-drake/carapace/pkg/wire"
)

// hostSource identifies the broker itself as event origin.
const hostSource = "host"

// Bus publishes broker events on the PUB socket. Sequence numbers are
// assigned per container under the bus mutex, so the stream to any given
// subscriber is reconstructible in order.
type Bus struct {
	pub transport.Publisher

	mu   sync.Mutex
	seqs map[string]int64
}

// NewBus creates a bus over a bound publisher.
func NewBus(pub transport.Publisher) *Bus {
	return &Bus{pub: pub, seqs: make(map[string]int64)}
}

// PublishSystem emits a response.system event for a container stream.
func (b *Bus) PublishSystem(containerID, message string) {
	b.publish(TopicResponseSystem, containerID, &ResponseSystemPayload{
		ContainerID: containerID,
		Seq:         b.next(containerID),
		Message:     message,
	})
}

// PublishChunk emits one response.chunk delta.
func (b *Bus) PublishChunk(containerID, correlation, delta string) {
	b.publish(TopicResponseChunk, containerID, &ResponseChunkPayload{
		ContainerID: containerID,
		Seq:         b.next(containerID),
		Correlation: correlation,
		Delta:       delta,
	})
}

// PublishEnd terminates a container stream successfully.
func (b *Bus) PublishEnd(containerID, correlation string) {
	b.publish(TopicResponseEnd, containerID, &ResponseEndPayload{
		ContainerID: containerID,
		Seq:         b.next(containerID),
		Correlation: correlation,
	})
}

// PublishResponseError emits a response.error event. Also the router's
// rejection tap.
func (b *Bus) PublishResponseError(containerID, correlation, code, message string) {
	b.publish(TopicResponseError, containerID, &ResponseErrorPayload{
		ContainerID: containerID,
		Seq:         b.next(containerID),
		Correlation: correlation,
		Code:        code,
		Message:     message,
	})
}

// next assigns the container's next stream sequence number.
func (b *Bus) next(containerID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[containerID]++
	return b.seqs[containerID]
}

// Forget drops a container's sequence counter after its session ends.
func (b *Bus) Forget(containerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seqs, containerID)
}

// publish wraps a payload in an event envelope and ships it. Sends are
// fire-and-forget: failures are logged, never propagated to the caller.
func (b *Bus) publish(topic, containerID string, payload any) {
	env := wire.NewEventEnvelope(topic, hostSource, "", payload, time.Now())
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal event envelope", "topic", topic, "error", err)
		return
	}
	if err := b.pub.Send(topic, data); err != nil {
		slog.Warn("Failed to publish event", "topic", topic, "container_id", containerID, "error", err)
	}
}
