package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fred-drake/carapace/pkg/catalog"
	"github.com/fred-drake/carapace/pkg/toolerr"
	"github.com/fred-drake/carapace/pkg/wire"
)

// Executor defaults.
const (
	DefaultHandlerTimeout   = 30 * time.Second
	DefaultMaxResponseBytes = 1 << 20 // 1 MiB
)

// ExecutorConfig bounds handler invocations.
type ExecutorConfig struct {
	HandlerTimeout   time.Duration
	MaxResponseBytes int
}

// Executor wraps stage-6 dispatch: timeout enforcement, response size
// checking, and discrimination of typed tool-errors from opaque handler
// failures. Handler panics are contained here too — a panicking plugin
// must not take the broker down.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor creates an executor, applying defaults for zero fields.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return &Executor{cfg: cfg}
}

// handlerResult carries the handler's return across the goroutine
// boundary.
type handlerResult struct {
	value any
	err   error
}

// Execute invokes the tool handler with the envelope. On success the
// result is returned normalized to JSON-shaped values so the sanitizer
// and codec see canonical types. On failure the returned tool-error is
// ready for the response envelope: PLUGIN_TIMEOUT after the deadline,
// HANDLER_ERROR for oversized responses or reserved-code misuse, and
// PLUGIN_ERROR with a fixed message for everything opaque.
func (x *Executor) Execute(ctx context.Context, tool *catalog.Tool, env *wire.Envelope) (any, *toolerr.ToolError) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := tool.Handler()(ctx, env)
		done <- handlerResult{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, toolerr.Newf(toolerr.CodePluginTimeout,
			"tool %q did not complete within %s", tool.Name, x.cfg.HandlerTimeout).
			WithStage(6)
	case res := <-done:
		if res.err != nil {
			return nil, toolerr.Normalize(res.err)
		}
		return x.normalizeResult(tool.Name, res.value)
	}
}

// normalizeResult enforces the response size limit and converts the
// handler's value into JSON-shaped form.
func (x *Executor) normalizeResult(toolName string, value any) (any, *toolerr.ToolError) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, toolerr.Newf(toolerr.CodeHandlerError,
			"tool %q returned a non-serializable result", toolName)
	}
	if len(raw) > x.cfg.MaxResponseBytes {
		return nil, toolerr.Newf(toolerr.CodeHandlerError,
			"tool %q response of %d bytes exceeds the %d byte limit",
			toolName, len(raw), x.cfg.MaxResponseBytes)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, toolerr.Newf(toolerr.CodeHandlerError,
			"tool %q returned a non-serializable result", toolName)
	}
	return normalized, nil
}
