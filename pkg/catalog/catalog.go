// Package catalog maintains the registry of tools the broker can dispatch:
// declarations, handlers, and per-tool compiled argument validators.
// Registration completes before request serving begins; after that the
// catalog is read-only for the lifetime of the process.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/wire"
)

// RiskLevel classifies a tool for the confirmation stage.
type RiskLevel string

// Risk levels. High-risk tools require a confirmation to pass stage 5.
const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// Handler executes one tool invocation. The envelope is host-constructed
// and trusted; handlers read arguments via env.Arguments(). A handler
// returns a JSON-serializable result or an error; typed *toolerr.ToolError
// values cross the boundary intact (reserved codes excepted), anything
// else is collapsed to PLUGIN_ERROR by the executor.
type Handler func(ctx context.Context, env *wire.Envelope) (any, error)

// Declaration describes a tool: its name, human description, risk level,
// and JSON-Schema for arguments. The schema root must declare
// type=object and additionalProperties=false.
type Declaration struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	ArgumentsSchema map[string]any `json:"arguments_schema"`
}

// Tool pairs a declaration with its handler and compiled validator.
type Tool struct {
	Declaration
	handler Handler
	schema  *jsonschema.Schema
}

// Handler returns the tool's handler.
func (t *Tool) Handler() Handler { return t.handler }

// Catalog maps tool names to registered tools. Intrinsic and plugin tools
// share one catalog; intrinsics receive no pipeline exemptions.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tools: make(map[string]*Tool)}
}

// Register adds a tool. The argument schema is compiled once here;
// duplicate names and malformed schemas fail registration.
func (c *Catalog) Register(decl Declaration, h Handler) error {
	if decl.Name == "" {
		return fmt.Errorf("tool declaration missing name")
	}
	if h == nil {
		return fmt.Errorf("tool %q has no handler", decl.Name)
	}
	if decl.RiskLevel != RiskLow && decl.RiskLevel != RiskHigh {
		return fmt.Errorf("tool %q has invalid risk level %q", decl.Name, decl.RiskLevel)
	}
	if err := checkSchemaRoot(decl.ArgumentsSchema); err != nil {
		return fmt.Errorf("tool %q: %w", decl.Name, err)
	}

	schema, err := compileSchema(decl.Name, decl.ArgumentsSchema)
	if err != nil {
		return fmt.Errorf("tool %q: compile arguments schema: %w", decl.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[decl.Name]; exists {
		return fmt.Errorf("tool %q is already registered", decl.Name)
	}
	c.tools[decl.Name] = &Tool{Declaration: decl, handler: h, schema: schema}
	return nil
}

// Get returns the tool registered under name.
func (c *Catalog) Get(name string) (*Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// List returns all declarations sorted by name.
func (c *Catalog) List() []Declaration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	decls := make([]Declaration, 0, len(c.tools))
	for _, t := range c.tools {
		decls = append(decls, t.Declaration)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// ValidateArguments checks args against the tool's compiled schema.
// Returns a VALIDATION_FAILED tool-error carrying the first offending
// property path and a human-readable summary of the first error.
func (c *Catalog) ValidateArguments(name string, args map[string]any) *toolerr.ToolError {
	t, ok := c.Get(name)
	if !ok {
		return toolerr.Newf(toolerr.CodeUnknownTool, "unknown tool %q", name)
	}
	if err := t.schema.Validate(normalize(args)); err != nil {
		field, summary := describeValidationError(err)
		return toolerr.New(toolerr.CodeValidationFailed, summary).WithField(field)
	}
	return nil
}

// checkSchemaRoot enforces the root schema contract: type=object with
// additionalProperties=false, so undeclared arguments can never reach a
// handler.
func checkSchemaRoot(schema map[string]any) error {
	if schema == nil {
		return fmt.Errorf("arguments schema is required")
	}
	if typ, _ := schema["type"].(string); typ != "object" {
		return fmt.Errorf("arguments schema root must declare type=object")
	}
	if ap, ok := schema["additionalProperties"].(bool); !ok || ap {
		return fmt.Errorf("arguments schema root must declare additionalProperties=false")
	}
	return nil
}

// compileSchema compiles a declaration schema into a validator. The
// declaration map is round-tripped through JSON so the compiler sees
// canonical number and nesting types.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("carapace:///tools/%s/arguments.json", name)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

// normalize round-trips args through JSON so the validator sees the same
// value shapes the codec produces.
func normalize(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return args
	}
	return doc
}

// describeValidationError extracts the first offending property path and a
// one-line summary from a jsonschema validation error.
func describeValidationError(err error) (field, summary string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field = instancePath(leaf.InstanceLocation)
	summary = fmt.Sprintf("argument validation failed: %s", leaf.Error())
	return field, summary
}

// instancePath renders a jsonschema instance location as a dotted path
// rooted at "$".
func instancePath(location []string) string {
	if len(location) == 0 {
		return "$"
	}
	return "$." + strings.Join(location, ".")
}
