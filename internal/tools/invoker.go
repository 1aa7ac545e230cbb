package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Invoker is the single entry point for executing a tool call. It resolves
// the tool, validates arguments against the tool's input schema, applies a
// per-call timeout and classifies any failure into the InvokeError taxonomy.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

// NewInvoker wires an invoker over a registry. A zero timeout defaults to 30s.
func NewInvoker(registry *Registry, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Invoker{
		registry: registry,
		timeout:  timeout,
		logger:   log.New(os.Stdout, "[INVOKE] ", log.LstdFlags),
	}
}

// Invoke runs a single tool call. All failures come back as *InvokeError so
// callers can branch on ErrorKindOf without string matching.
func (iv *Invoker) Invoke(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	tool, provider, ok := iv.registry.Lookup(name)
	if !ok {
		return nil, NotFoundError(name)
	}
	if err := ValidateArgs(tool, args); err != nil {
		return nil, SchemaError(name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	start := time.Now()
	out, err := provider.Call(callCtx, name, args)
	elapsed := time.Since(start)
	if err != nil {
		iv.logger.Printf("tool %s failed after %s: %v", name, elapsed.Round(time.Millisecond), err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, TransportError(name, fmt.Errorf("call timed out after %v", iv.timeout))
		}
		var ie *InvokeError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, ToolError(name, err)
	}
	iv.logger.Printf("tool %s completed in %s", name, elapsed.Round(time.Millisecond))
	return out, nil
}

// ValidateArgs checks the supplied arguments against the tool's input schema:
// required keys must be present and typed properties must match. Unknown keys
// pass through untouched.
func ValidateArgs(tool Tool, args map[string]interface{}) error {
	if tool.InputSchema == nil {
		return nil
	}
	if req, ok := tool.InputSchema["required"]; ok {
		for _, key := range requiredKeys(req) {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required argument %q", key)
			}
		}
	}
	props, ok := tool.InputSchema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for key, raw := range props {
		val, present := args[key]
		if !present || val == nil {
			continue
		}
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if typ, ok := prop["type"].(string); ok {
			if err := checkType(key, typ, val); err != nil {
				return err
			}
		}
		if format, ok := prop["format"].(string); ok && format == "email" {
			if s, ok := val.(string); ok {
				if err := ValidateEmail(s); err != nil {
					return fmt.Errorf("argument %q: %w", key, err)
				}
			}
		}
	}
	return nil
}

func requiredKeys(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func checkType(key, typ string, val interface{}) error {
	switch typ {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("argument %q must be a string", key)
		}
	case "integer":
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q must be an integer", key)
			}
		default:
			return fmt.Errorf("argument %q must be an integer", key)
		}
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("argument %q must be a number", key)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", key)
		}
	case "array":
		switch val.(type) {
		case []interface{}, []string:
		default:
			return fmt.Errorf("argument %q must be an array", key)
		}
	case "object":
		if _, ok := val.(map[string]interface{}); !ok {
			return fmt.Errorf("argument %q must be an object", key)
		}
	}
	return nil
}
