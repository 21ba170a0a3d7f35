// Package toolerr defines the error taxonomy shared by the pipeline, the
// handler executor, and plugin handlers. Every failure that crosses the
// trust boundary is expressed as a ToolError with a stable code; anything
// else is collapsed into PLUGIN_ERROR before it reaches a container.
package toolerr

import (
	"errors"
	"fmt"
)

// Error codes. The pipeline owns the reserved subset; handlers may emit any
// other code.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeUnknownTool         = "UNKNOWN_TOOL"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	CodePluginTimeout       = "PLUGIN_TIMEOUT"
	CodePluginError         = "PLUGIN_ERROR"
	CodeHandlerError        = "HANDLER_ERROR"
)

// reservedCodes are pipeline-owned: a handler attempting to emit one is
// normalized to HANDLER_ERROR by the executor, preserving the message.
var reservedCodes = map[string]bool{
	CodeValidationFailed:    true,
	CodeUnknownTool:         true,
	CodeUnauthorized:        true,
	CodeRateLimited:         true,
	CodeConfirmationTimeout: true,
	CodePluginTimeout:       true,
}

// retriableDefaults maps each pipeline code to its default retriable flag.
var retriableDefaults = map[string]bool{
	CodeValidationFailed:    false,
	CodeUnknownTool:         false,
	CodeUnauthorized:        false,
	CodeRateLimited:         true,
	CodeConfirmationTimeout: true,
	CodePluginTimeout:       true,
	CodePluginError:         false,
	CodeHandlerError:        false,
}

// ToolError is the structured error payload carried in response envelopes.
// Stage is the 1-based pipeline stage that produced the rejection; zero
// means the error did not originate in the pipeline.
type ToolError struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Retriable  bool    `json:"retriable"`
	Field      string  `json:"field,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	Stage      int     `json:"stage,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Stage > 0 {
		return fmt.Sprintf("%s (stage %d): %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a ToolError with the default retriable flag for code.
// Unknown codes default to non-retriable.
func New(code, message string) *ToolError {
	return &ToolError{
		Code:      code,
		Message:   message,
		Retriable: retriableDefaults[code],
	}
}

// Newf creates a ToolError with a formatted message.
func Newf(code, format string, args ...any) *ToolError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithStage returns e with the pipeline stage set.
func (e *ToolError) WithStage(stage int) *ToolError {
	e.Stage = stage
	return e
}

// WithField returns e with the offending field path set.
func (e *ToolError) WithField(field string) *ToolError {
	e.Field = field
	return e
}

// WithRetryAfter returns e with the advisory retry delay (seconds) set.
func (e *ToolError) WithRetryAfter(seconds float64) *ToolError {
	e.RetryAfter = seconds
	return e
}

// IsReserved reports whether code belongs to the pipeline-owned set that
// plugin handlers must not emit.
func IsReserved(code string) bool {
	return reservedCodes[code]
}

// Retriable returns the default retriable flag for code.
func Retriable(code string) bool {
	return retriableDefaults[code]
}

// AsToolError discriminates a typed tool-error from any other error.
// Opaque errors return (nil, false); the caller maps those to PLUGIN_ERROR
// without leaking internals.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Normalize prepares a handler-produced error for the response envelope.
// Typed tool-errors pass through unless they claim a reserved code, in
// which case they become HANDLER_ERROR with the original message. Opaque
// errors become PLUGIN_ERROR with a fixed message so stack traces and
// internal details never cross the boundary.
func Normalize(err error) *ToolError {
	te, ok := AsToolError(err)
	if !ok {
		return New(CodePluginError, "Plugin handler encountered an internal error")
	}
	if IsReserved(te.Code) {
		return &ToolError{
			Code:      CodeHandlerError,
			Message:   te.Message,
			Retriable: false,
			Field:     te.Field,
		}
	}
	return te
}
