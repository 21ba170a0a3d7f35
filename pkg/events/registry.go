package events

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// canonicalSchemas validate inbound event payloads: closed content-type
// enum, bounded lengths, no undeclared fields. Outbound payloads are
// host-constructed and need no gate.
var canonicalSchemas = map[string]string{
	TopicMessageInbound: `{
		"type": "object",
		"properties": {
			"container_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"content_type": {"enum": ["text/plain", "text/markdown", "application/json"]},
			"content":      {"type": "string", "maxLength": 65536},
			"sender":       {"type": "string", "maxLength": 256}
		},
		"required": ["container_id", "content_type", "content"],
		"additionalProperties": false
	}`,
	TopicSessionStarted: `{
		"type": "object",
		"properties": {
			"container_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"group":        {"type": "string", "minLength": 1, "maxLength": 64},
			"source":       {"type": "string", "minLength": 1, "maxLength": 128}
		},
		"required": ["container_id", "group", "source"],
		"additionalProperties": false
	}`,
	TopicSessionStopped: `{
		"type": "object",
		"properties": {
			"container_id": {"type": "string", "minLength": 1, "maxLength": 128}
		},
		"required": ["container_id"],
		"additionalProperties": false
	}`,
}

// Registry holds the compiled canonical event schemas.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the canonical schemas.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: make(map[string]*jsonschema.Schema, len(canonicalSchemas))}
	for topic, raw := range canonicalSchemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", topic, err)
		}
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("carapace:///events/%s.json", topic)
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", topic, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", topic, err)
		}
		r.schemas[topic] = schema
	}
	return r, nil
}

// Known reports whether topic has a canonical inbound schema.
func (r *Registry) Known(topic string) bool {
	_, ok := r.schemas[topic]
	return ok
}

// Validate checks a decoded payload against the topic's schema. Unknown
// topics fail closed.
func (r *Registry) Validate(topic string, payload any) error {
	schema, ok := r.schemas[topic]
	if !ok {
		return fmt.Errorf("no canonical schema for topic %q", topic)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("payload for %s rejected: %w", topic, err)
	}
	return nil
}
