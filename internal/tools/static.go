package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// HandlerFunc implements a single in-process tool.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// StaticProvider hosts tools implemented as plain Go functions inside the
// process. It backs the calculator and any test doubles.
type StaticProvider struct {
	name     string
	tools    []Tool
	handlers map[string]HandlerFunc
}

func NewStaticProvider(name string) *StaticProvider {
	return &StaticProvider{
		name:     name,
		handlers: make(map[string]HandlerFunc),
	}
}

func (p *StaticProvider) Name() string { return p.name }

// Register adds a tool backed by fn. Returns the provider for chaining.
func (p *StaticProvider) Register(tool Tool, fn HandlerFunc) *StaticProvider {
	p.tools = append(p.tools, tool)
	p.handlers[tool.Name] = fn
	return p
}

func (p *StaticProvider) ListTools(ctx context.Context) ([]Tool, error) {
	out := make([]Tool, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

func (p *StaticProvider) Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	fn, ok := p.handlers[tool]
	if !ok {
		return nil, NotFoundError(tool)
	}
	out, err := fn(ctx, args)
	if err != nil {
		var ie *InvokeError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, ToolError(tool, err)
	}
	return out, nil
}

func binarySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "number", "description": "First operand"},
			"b": map[string]interface{}{"type": "number", "description": "Second operand"},
		},
		"required": []interface{}{"a", "b"},
	}
}

// NewCalculatorProvider returns a static provider exposing basic arithmetic.
func NewCalculatorProvider() *StaticProvider {
	p := NewStaticProvider("calculator")
	ops := []struct {
		name string
		desc string
		fn   func(a, b float64) (float64, error)
	}{
		{"calculator.add", "Add two numbers", func(a, b float64) (float64, error) { return a + b, nil }},
		{"calculator.subtract", "Subtract the second number from the first", func(a, b float64) (float64, error) { return a - b, nil }},
		{"calculator.multiply", "Multiply two numbers", func(a, b float64) (float64, error) { return a * b, nil }},
		{"calculator.divide", "Divide the first number by the second", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return a / b, nil
		}},
		{"calculator.power", "Raise the first number to the power of the second", func(a, b float64) (float64, error) {
			return math.Pow(a, b), nil
		}},
	}
	for _, op := range ops {
		fn := op.fn
		p.Register(Tool{
			Name:        op.name,
			Description: op.desc,
			InputSchema: binarySchema(),
		}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			a, err := AsFloat(args["a"])
			if err != nil {
				return nil, fmt.Errorf("argument a: %w", err)
			}
			b, err := AsFloat(args["b"])
			if err != nil {
				return nil, fmt.Errorf("argument b: %w", err)
			}
			result, err := fn(a, b)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"result": result}, nil
		})
	}
	return p
}

// AsFloat coerces a JSON-decoded value to float64.
func AsFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// AsInt coerces a JSON-decoded value to int.
func AsInt(v interface{}) (int, error) {
	f, err := AsFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// AsString coerces a JSON-decoded value to string.
func AsString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	if v == nil {
		return "", fmt.Errorf("value is nil")
	}
	return fmt.Sprintf("%v", v), nil
}

// AsStringSlice coerces a JSON-decoded value to a string slice.
func AsStringSlice(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return x, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, err := AsString(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{x}, nil
	default:
		return nil, fmt.Errorf("not a string list: %v", v)
	}
}
