package tools

import (
	"context"
	"strings"
	"testing"
)

func callCalc(t *testing.T, p *StaticProvider, tool string, a, b float64) (map[string]interface{}, error) {
	t.Helper()
	return p.Call(context.Background(), tool, map[string]interface{}{"a": a, "b": b})
}

func TestCalculatorOps(t *testing.T) {
	p := NewCalculatorProvider()
	cases := []struct {
		tool string
		a, b float64
		want float64
	}{
		{"calculator.add", 2, 3, 5},
		{"calculator.subtract", 10, 4, 6},
		{"calculator.multiply", 6, 7, 42},
		{"calculator.divide", 9, 3, 3},
		{"calculator.power", 2, 10, 1024},
	}
	for _, tc := range cases {
		out, err := callCalc(t, p, tc.tool, tc.a, tc.b)
		if err != nil {
			t.Fatalf("%s: %v", tc.tool, err)
		}
		if got := out["result"].(float64); got != tc.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tc.tool, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	p := NewCalculatorProvider()
	_, err := callCalc(t, p, "calculator.divide", 1, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "division by zero") {
		t.Fatalf("unexpected error: %v", err)
	}
	if ErrorKindOf(err) != ErrorKindTool {
		t.Fatalf("expected tool error kind, got %s", ErrorKindOf(err))
	}
}

func TestCalculatorCoercesStringOperands(t *testing.T) {
	p := NewCalculatorProvider()
	out, err := p.Call(context.Background(), "calculator.add", map[string]interface{}{"a": "2", "b": "3"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := out["result"].(float64); got != 5 {
		t.Fatalf("got %v, want 5", got)
	}
}

func TestAsStringSlice(t *testing.T) {
	if got, err := AsStringSlice([]interface{}{"a", "b"}); err != nil || len(got) != 2 {
		t.Fatalf("got %v, %v", got, err)
	}
	if got, err := AsStringSlice("solo"); err != nil || len(got) != 1 || got[0] != "solo" {
		t.Fatalf("got %v, %v", got, err)
	}
	if _, err := AsStringSlice(7); err == nil {
		t.Fatal("expected error for non-list")
	}
}
