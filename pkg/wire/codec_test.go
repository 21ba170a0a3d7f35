package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fred-drake/carapace/pkg/toolerr"
)

func TestDecodeMessage_Valid(t *testing.T) {
	msg, rej := DecodeMessage([]byte(`{"topic":"tool.invoke.echo","correlation":"c1","arguments":{"text":"hi"}}`))
	require.Nil(t, rej)
	assert.Equal(t, "tool.invoke.echo", msg.Topic)
	assert.Equal(t, "c1", msg.Correlation)
	assert.Equal(t, "hi", msg.Arguments["text"])
}

func TestDecodeMessage_EmptyArguments(t *testing.T) {
	msg, rej := DecodeMessage([]byte(`{"topic":"t","correlation":"c","arguments":{}}`))
	require.Nil(t, rej)
	assert.Empty(t, msg.Arguments)
}

func TestDecodeMessage_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `"hello"`},
		{"missing topic", `{"correlation":"c","arguments":{}}`},
		{"missing correlation", `{"topic":"t","arguments":{}}`},
		{"missing arguments", `{"topic":"t","correlation":"c"}`},
		{"extra top-level field", `{"topic":"t","correlation":"c","arguments":{},"source":"evil"}`},
		{"identity injection", `{"topic":"t","correlation":"c","arguments":{},"group":"admin"}`},
		{"topic not a string", `{"topic":7,"correlation":"c","arguments":{}}`},
		{"arguments not an object", `{"topic":"t","correlation":"c","arguments":[1]}`},
		{"arguments null", `{"topic":"t","correlation":"c","arguments":null}`},
		{"proto key top level", `{"topic":"t","correlation":"c","arguments":{"__proto__":{}}}`},
		{"constructor key nested", `{"topic":"t","correlation":"c","arguments":{"a":{"b":{"constructor":1}}}}`},
		{"prototype key in list", `{"topic":"t","correlation":"c","arguments":{"a":[{"prototype":1}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, rej := DecodeMessage([]byte(tt.data))
			assert.Nil(t, msg)
			require.NotNil(t, rej)
			assert.Equal(t, toolerr.CodeValidationFailed, rej.Code)
		})
	}
}

func TestNewRequestEnvelope_IdentityFromSession(t *testing.T) {
	// The wire message cannot assert identity: source and group always
	// come from the host-side session, whatever the container sent.
	msg := &Message{
		Topic:       "tool.invoke.echo",
		Correlation: "c9",
		Arguments:   map[string]any{"text": "hi"},
	}

	env := NewRequestEnvelope(msg, "agent-7", "tenants-a", fixedTime(t))

	assert.Equal(t, "agent-7", env.Source)
	assert.Equal(t, "tenants-a", env.Group)
	assert.Equal(t, TypeRequest, env.Type)
	assert.Equal(t, ProtocolVersion, env.Version)
	assert.Equal(t, "c9", env.Correlation)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "2026-03-01T10:30:00.000Z", env.Timestamp)
}

func TestNewRequestEnvelope_CopiesArguments(t *testing.T) {
	args := map[string]any{"nested": map[string]any{"k": "v"}}
	msg := &Message{Topic: "t", Correlation: "c", Arguments: args}

	env := NewRequestEnvelope(msg, "s", "g", fixedTime(t))

	// Mutating the wire message after construction must not leak into
	// the envelope.
	args["nested"].(map[string]any)["k"] = "mutated"
	assert.Equal(t, "v", env.Arguments()["nested"].(map[string]any)["k"])
}

func TestNewResponseEnvelope_MirrorsRequest(t *testing.T) {
	msg := &Message{Topic: "tool.invoke.echo", Correlation: "c1", Arguments: map[string]any{}}
	req := NewRequestEnvelope(msg, "s", "g", fixedTime(t))

	resp := NewResponseEnvelope(req, map[string]any{"ok": true}, nil, fixedTime(t))

	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, req.Correlation, resp.Correlation)
	assert.Equal(t, req.Topic, resp.Topic)
	assert.NotEqual(t, req.ID, resp.ID, "response gets a fresh id")

	payload, ok := resp.Payload.(*ResponsePayload)
	require.True(t, ok)
	assert.NotNil(t, payload.Result)
	assert.Nil(t, payload.Error)
}

func TestEncodeEnvelope_WireShape(t *testing.T) {
	msg := &Message{Topic: "tool.invoke.echo", Correlation: "c1", Arguments: map[string]any{"text": "hi"}}
	req := NewRequestEnvelope(msg, "s", "g", fixedTime(t))

	data, err := EncodeEnvelope(req)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, want := range []string{"id", "version", "type", "topic", "source", "correlation", "timestamp", "group", "payload"} {
		assert.Contains(t, fields, want)
	}
	assert.Len(t, fields, 9, "envelope carries exactly the whitelisted fields")
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	msg := &Message{Topic: "tool.invoke.echo", Correlation: "c1", Arguments: map[string]any{}}
	req := NewRequestEnvelope(msg, "s", "g", fixedTime(t))
	resp := NewResponseEnvelope(req, map[string]any{"echoed": "hi"}, nil, fixedTime(t))

	data, err := EncodeEnvelope(resp)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "c1", decoded.Correlation)
	payload, ok := decoded.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", payload["result"].(map[string]any)["echoed"])
}

func TestFindPollutionKey(t *testing.T) {
	key, found := FindPollutionKey(map[string]any{"ok": []any{map[string]any{"__proto__": 1}}})
	assert.True(t, found)
	assert.Equal(t, "__proto__", key)

	_, found = FindPollutionKey(map[string]any{"proto": "__proto__ as a value is fine"})
	assert.False(t, found)
}
