package catalog

import (
	"context"

	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/wire"
)

// SessionInfoProvider resolves the session record behind an envelope
// source. Implemented by the session manager.
type SessionInfoProvider interface {
	SessionInfoBySource(source string) (map[string]any, bool)
}

// DiagnosticsProvider reports broker health counters for the
// get_diagnostics intrinsic. Implemented by the router.
type DiagnosticsProvider interface {
	Diagnostics() map[string]any
}

// emptyObjectSchema is the schema for intrinsics that take no arguments.
func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

// RegisterIntrinsics adds the built-in tools to the catalog. Intrinsics go
// through the full pipeline like any plugin tool.
func RegisterIntrinsics(c *Catalog, sessions SessionInfoProvider, diags DiagnosticsProvider) error {
	intrinsics := []struct {
		decl    Declaration
		handler Handler
	}{
		{
			decl: Declaration{
				Name:        "echo",
				Description: "Returns the text argument unchanged. Connectivity check.",
				RiskLevel:   RiskLow,
				ArgumentsSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
					},
					"required":             []any{"text"},
					"additionalProperties": false,
				},
			},
			handler: func(_ context.Context, env *wire.Envelope) (any, error) {
				return map[string]any{"echoed": env.Arguments()["text"]}, nil
			},
		},
		{
			decl: Declaration{
				Name:            "list_tools",
				Description:     "Lists every tool declaration in the catalog.",
				RiskLevel:       RiskLow,
				ArgumentsSchema: emptyObjectSchema(),
			},
			handler: func(_ context.Context, _ *wire.Envelope) (any, error) {
				return map[string]any{"tools": c.List()}, nil
			},
		},
		{
			decl: Declaration{
				Name:            "get_session_info",
				Description:     "Returns the host-side session record for the calling container.",
				RiskLevel:       RiskLow,
				ArgumentsSchema: emptyObjectSchema(),
			},
			handler: func(_ context.Context, env *wire.Envelope) (any, error) {
				info, ok := sessions.SessionInfoBySource(env.Source)
				if !ok {
					return nil, toolerr.Newf("SESSION_NOT_FOUND", "no session for source %q", env.Source)
				}
				return info, nil
			},
		},
		{
			decl: Declaration{
				Name:            "get_diagnostics",
				Description:     "Returns broker health counters.",
				RiskLevel:       RiskLow,
				ArgumentsSchema: emptyObjectSchema(),
			},
			handler: func(_ context.Context, _ *wire.Envelope) (any, error) {
				return diags.Diagnostics(), nil
			},
		},
	}

	for _, in := range intrinsics {
		if err := c.Register(in.decl, in.handler); err != nil {
			return err
		}
	}
	return nil
}
