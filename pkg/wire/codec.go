package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fred-drake/carapace/pkg/toolerr"
)

// allowedMessageFields is the closed set of top-level wire message fields.
var allowedMessageFields = map[string]bool{
	"topic":       true,
	"correlation": true,
	"arguments":   true,
}

// pollutionKeys are argument key names rejected recursively before any
// downstream component sees the value.
var pollutionKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// DecodeMessage parses a raw frame into a wire message. It rejects frames
// that are not JSON objects, that miss any of the three required fields,
// that carry extra top-level fields, or whose arguments contain
// prototype-pollution key names at any depth. All failures are
// VALIDATION_FAILED tool-errors.
func DecodeMessage(data []byte) (*Message, *toolerr.ToolError) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, toolerr.Newf(toolerr.CodeValidationFailed, "wire message is not a JSON object: %v", err)
	}

	for field := range raw {
		if !allowedMessageFields[field] {
			return nil, toolerr.Newf(toolerr.CodeValidationFailed, "unexpected top-level field %q", field)
		}
	}
	for field := range allowedMessageFields {
		if _, ok := raw[field]; !ok {
			return nil, toolerr.Newf(toolerr.CodeValidationFailed, "missing required field %q", field)
		}
	}

	var msg Message
	if err := json.Unmarshal(raw["topic"], &msg.Topic); err != nil {
		return nil, toolerr.New(toolerr.CodeValidationFailed, "field \"topic\" must be a string")
	}
	if err := json.Unmarshal(raw["correlation"], &msg.Correlation); err != nil {
		return nil, toolerr.New(toolerr.CodeValidationFailed, "field \"correlation\" must be a string")
	}
	if err := json.Unmarshal(raw["arguments"], &msg.Arguments); err != nil || msg.Arguments == nil {
		return nil, toolerr.New(toolerr.CodeValidationFailed, "field \"arguments\" must be an object")
	}

	if key, found := FindPollutionKey(msg.Arguments); found {
		return nil, toolerr.Newf(toolerr.CodeValidationFailed, "arguments contain forbidden key %q", key)
	}

	return &msg, nil
}

// FindPollutionKey walks a JSON-shaped value looking for forbidden key
// names in any mapping at any depth.
func FindPollutionKey(v any) (string, bool) {
	switch tv := v.(type) {
	case map[string]any:
		for k, e := range tv {
			if pollutionKeys[k] {
				return k, true
			}
			if key, found := FindPollutionKey(e); found {
				return key, true
			}
		}
	case []any:
		for _, e := range tv {
			if key, found := FindPollutionKey(e); found {
				return key, true
			}
		}
	}
	return "", false
}

// EncodeEnvelope serializes an envelope as UTF-8 JSON for the wire.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope from the wire. Used by subscribers and
// by the in-container side of tests; the host never trusts identity fields
// from a decoded envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}
