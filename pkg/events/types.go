// Package events is the broker's PUB/SUB side: outbound response-stream
// and lifecycle events with per-container sequence numbers, and inbound
// events validated against a canonical schema registry before any
// subscriber sees them.
//
// Outbound streams follow a fixed lifecycle per correlation:
//
//	response.system  {seq, message}            (optional preamble)
//	response.chunk   {seq, delta}              (repeated)
//	response.end     {seq, correlation}        (terminal, success)
//	response.error   {seq, correlation, code}  (terminal, failure)
//
// Sequence numbers are per container, strictly increasing across all four
// topics, so consumers can reconstruct order even when frames interleave
// with other containers' streams.
package events

// Outbound response-stream topics.
const (
	TopicResponseSystem = "response.system"
	TopicResponseChunk  = "response.chunk"
	TopicResponseEnd    = "response.end"
	TopicResponseError  = "response.error"
)

// Inbound event topics accepted from external producers.
const (
	TopicMessageInbound = "message.inbound"
	TopicSessionStarted = "session.started"
	TopicSessionStopped = "session.stopped"
)

// Inbound message content types. Closed enum; anything else is rejected
// by the registry.
const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypeJSON     = "application/json"
)
