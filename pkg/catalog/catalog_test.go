package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/wire"
)

// echoDeclaration builds the canonical echo tool declaration used across
// these tests.
func echoDeclaration(t *testing.T) Declaration {
	t.Helper()
	return Declaration{
		Name:        "echo",
		Description: "echoes text",
		RiskLevel:   RiskLow,
		ArgumentsSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required":             []any{"text"},
			"additionalProperties": false,
		},
	}
}

func echoHandler(_ context.Context, env *wire.Envelope) (any, error) {
	return map[string]any{"echoed": env.Arguments()["text"]}, nil
}

func TestRegister_AndLookup(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(echoDeclaration(t), echoHandler))

	assert.True(t, c.Has("echo"))
	tool, ok := c.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, RiskLow, tool.RiskLevel)
	assert.NotNil(t, tool.Handler())

	assert.False(t, c.Has("nope"))
}

func TestRegister_DuplicateFails(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(echoDeclaration(t), echoHandler))

	err := c.Register(echoDeclaration(t), echoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegister_SchemaRootContract(t *testing.T) {
	tests := []struct {
		name   string
		schema map[string]any
	}{
		{"nil schema", nil},
		{"root not object type", map[string]any{"type": "string", "additionalProperties": false}},
		{"additionalProperties missing", map[string]any{"type": "object"}},
		{"additionalProperties true", map[string]any{"type": "object", "additionalProperties": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			decl := echoDeclaration(t)
			decl.ArgumentsSchema = tt.schema
			assert.Error(t, c.Register(decl, echoHandler))
		})
	}
}

func TestRegister_InvalidRiskLevel(t *testing.T) {
	c := New()
	decl := echoDeclaration(t)
	decl.RiskLevel = "medium"
	assert.Error(t, c.Register(decl, echoHandler))
}

func TestValidateArguments(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(echoDeclaration(t), echoHandler))

	t.Run("valid", func(t *testing.T) {
		assert.Nil(t, c.ValidateArguments("echo", map[string]any{"text": "hi"}))
	})

	t.Run("wrong type", func(t *testing.T) {
		rej := c.ValidateArguments("echo", map[string]any{"text": float64(123)})
		require.NotNil(t, rej)
		assert.Equal(t, toolerr.CodeValidationFailed, rej.Code)
		assert.NotEmpty(t, rej.Field)
	})

	t.Run("additional property", func(t *testing.T) {
		rej := c.ValidateArguments("echo", map[string]any{"text": "hi", "extra": "x"})
		require.NotNil(t, rej)
		assert.Equal(t, toolerr.CodeValidationFailed, rej.Code)
	})

	t.Run("missing required", func(t *testing.T) {
		rej := c.ValidateArguments("echo", map[string]any{})
		require.NotNil(t, rej)
		assert.Equal(t, toolerr.CodeValidationFailed, rej.Code)
	})

	t.Run("unknown tool", func(t *testing.T) {
		rej := c.ValidateArguments("nope", map[string]any{})
		require.NotNil(t, rej)
		assert.Equal(t, toolerr.CodeUnknownTool, rej.Code)
	})
}

func TestList_SortedByName(t *testing.T) {
	c := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		decl := echoDeclaration(t)
		decl.Name = name
		require.NoError(t, c.Register(decl, echoHandler))
	}

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}
