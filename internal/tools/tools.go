package tools

import (
	"context"
	"errors"
	"fmt"
)

// Tool describes a single capability advertised by a provider, including the
// JSON schema for its arguments.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Provider hosts a set of tools. Implementations hide the transport: a provider
// may run in-process, behind a stdio JSON-RPC subprocess, or over HTTP.
type Provider interface {
	// Name identifies the provider for logs and error messages.
	Name() string

	// ListTools returns the provider's tool descriptors.
	ListTools(ctx context.Context) ([]Tool, error)

	// Call executes a named tool with the given arguments and returns its
	// structured output.
	Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// ErrorKind classifies invocation failures so callers can distinguish a tool
// that reported an error from an unreachable provider or bad arguments.
type ErrorKind string

const (
	ErrorKindNotFound  ErrorKind = "not_found"
	ErrorKindSchema    ErrorKind = "schema"
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindTool      ErrorKind = "tool"
)

// InvokeError wraps a tool invocation failure with its classification.
type InvokeError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// NotFoundError builds an ErrorKindNotFound invocation error.
func NotFoundError(tool string) *InvokeError {
	return &InvokeError{Kind: ErrorKindNotFound, Tool: tool, Err: fmt.Errorf("tool not found")}
}

// SchemaError builds an ErrorKindSchema invocation error.
func SchemaError(tool string, err error) *InvokeError {
	return &InvokeError{Kind: ErrorKindSchema, Tool: tool, Err: err}
}

// TransportError builds an ErrorKindTransport invocation error.
func TransportError(tool string, err error) *InvokeError {
	return &InvokeError{Kind: ErrorKindTransport, Tool: tool, Err: err}
}

// ToolError builds an ErrorKindTool invocation error (the tool ran and
// reported failure).
func ToolError(tool string, err error) *InvokeError {
	return &InvokeError{Kind: ErrorKindTool, Tool: tool, Err: err}
}

// ErrorKindOf extracts the classification from an error chain. Unclassified
// errors default to ErrorKindTool.
func ErrorKindOf(err error) ErrorKind {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ErrorKindTool
}

// IsTransient reports whether a failed invocation is worth retrying. Only
// transport-level failures (connection reset, timeout, broken pipe) qualify;
// schema and tool-reported errors will fail the same way again.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ErrorKindOf(err) == ErrorKindTransport
}
