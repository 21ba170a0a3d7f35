// Package wire defines the messages exchanged across the container trust
// boundary and the strict codec that parses them.
//
// A container only ever sends the narrow three-field Message; it carries no
// identity. The host wraps everything it sends back in an Envelope whose
// identity fields (source, group) are authoritatively supplied from the
// session, never from the container.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is stamped into every envelope the host constructs.
const ProtocolVersion = 1

// Envelope type discriminators.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// ToolInvokePrefix is the topic prefix for tool invocation requests:
// "tool.invoke.<name>".
const ToolInvokePrefix = "tool.invoke."

// Message is the untrusted wire message a container sends: exactly topic,
// correlation, and arguments. Decode rejects anything else.
type Message struct {
	Topic       string         `json:"topic"`
	Correlation string         `json:"correlation"`
	Arguments   map[string]any `json:"arguments"`
}

// Envelope is the host-constructed message exchanged over the trust
// boundary. Payload shape depends on Type.
type Envelope struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	Type        string `json:"type"`
	Topic       string `json:"topic"`
	Source      string `json:"source"`
	Correlation string `json:"correlation"`
	Timestamp   string `json:"timestamp"`
	Group       string `json:"group"`
	Payload     any    `json:"payload"`
}

// RequestPayload is the payload of a request envelope.
type RequestPayload struct {
	Arguments map[string]any `json:"arguments"`
}

// ResponsePayload is the payload of a response envelope. Exactly one of
// Result and Error is non-nil.
type ResponsePayload struct {
	Result any `json:"result"`
	Error  any `json:"error"`
}

// Timestamp formats t as ISO-8601 UTC with millisecond precision, the
// canonical envelope timestamp format.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewRequestEnvelope builds a request envelope for a decoded wire message.
// Source and group come from the host's session record; the arguments map
// is deep-copied so later sanitization cannot alias container memory.
func NewRequestEnvelope(msg *Message, source, group string, now time.Time) *Envelope {
	return &Envelope{
		ID:          uuid.New().String(),
		Version:     ProtocolVersion,
		Type:        TypeRequest,
		Topic:       msg.Topic,
		Source:      source,
		Correlation: msg.Correlation,
		Timestamp:   Timestamp(now),
		Group:       group,
		Payload:     &RequestPayload{Arguments: copyArguments(msg.Arguments)},
	}
}

// NewResponseEnvelope builds the response envelope for a request. It
// carries the request's correlation and topic with a fresh id and
// timestamp. Exactly one of result and errPayload must be non-nil.
func NewResponseEnvelope(req *Envelope, result any, errPayload any, now time.Time) *Envelope {
	return &Envelope{
		ID:          uuid.New().String(),
		Version:     ProtocolVersion,
		Type:        TypeResponse,
		Topic:       req.Topic,
		Source:      req.Source,
		Correlation: req.Correlation,
		Timestamp:   Timestamp(now),
		Group:       req.Group,
		Payload:     &ResponsePayload{Result: result, Error: errPayload},
	}
}

// NewEventEnvelope builds a host-broadcast event envelope.
func NewEventEnvelope(topic, source, group string, payload any, now time.Time) *Envelope {
	return &Envelope{
		ID:          uuid.New().String(),
		Version:     ProtocolVersion,
		Type:        TypeEvent,
		Topic:       topic,
		Source:      source,
		Correlation: "",
		Timestamp:   Timestamp(now),
		Group:       group,
		Payload:     payload,
	}
}

// Arguments returns the request payload arguments, or nil for non-request
// envelopes.
func (e *Envelope) Arguments() map[string]any {
	if p, ok := e.Payload.(*RequestPayload); ok {
		return p.Arguments
	}
	return nil
}

// copyArguments deep-copies an arguments map (JSON-shaped values only).
func copyArguments(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
