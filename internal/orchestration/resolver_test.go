package orchestration

import (
	"reflect"
	"testing"
)

func sampleOutputs() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"step_1": {
			"result": float64(5),
			"messages": []interface{}{
				map[string]interface{}{"id": "m1", "subject": "Q3 budget review"},
				map[string]interface{}{"id": "m2", "subject": "Build failed"},
			},
		},
		"step_2": {
			"count": float64(2),
		},
	}
}

func TestResolveLonePlaceholderKeepsType(t *testing.T) {
	args := map[string]interface{}{
		"value": "{{step_1.result}}",
		"first": "${step_1.messages.0}",
	}
	resolved, err := ResolveArguments(args, sampleOutputs())
	if err != nil {
		t.Fatalf("ResolveArguments: %v", err)
	}
	if got := resolved["value"]; got != float64(5) {
		t.Fatalf("value = %v (%T), want float64 5", got, got)
	}
	first, ok := resolved["first"].(map[string]interface{})
	if !ok || first["id"] != "m1" {
		t.Fatalf("first = %v", resolved["first"])
	}
}

func TestResolveEmbeddedPlaceholderInterpolates(t *testing.T) {
	args := map[string]interface{}{
		"body": "The total is {{step_1.result}} across ${step_2.count} threads.",
	}
	resolved, err := ResolveArguments(args, sampleOutputs())
	if err != nil {
		t.Fatalf("ResolveArguments: %v", err)
	}
	if got := resolved["body"]; got != "The total is 5 across 2 threads." {
		t.Fatalf("body = %q", got)
	}
}

func TestResolveBracketIndexNormalized(t *testing.T) {
	args := map[string]interface{}{
		"subject": "{{step_1.messages[1].subject}}",
	}
	resolved, err := ResolveArguments(args, sampleOutputs())
	if err != nil {
		t.Fatalf("ResolveArguments: %v", err)
	}
	if got := resolved["subject"]; got != "Build failed" {
		t.Fatalf("subject = %v", got)
	}
}

func TestResolveNestedStructures(t *testing.T) {
	args := map[string]interface{}{
		"filters": map[string]interface{}{
			"limit": "{{step_2.count}}",
		},
		"ids": []interface{}{"{{step_1.messages.0.id}}", "literal"},
	}
	resolved, err := ResolveArguments(args, sampleOutputs())
	if err != nil {
		t.Fatalf("ResolveArguments: %v", err)
	}
	filters := resolved["filters"].(map[string]interface{})
	if filters["limit"] != float64(2) {
		t.Fatalf("limit = %v", filters["limit"])
	}
	want := []interface{}{"m1", "literal"}
	if !reflect.DeepEqual(resolved["ids"], want) {
		t.Fatalf("ids = %v", resolved["ids"])
	}
}

func TestResolveErrors(t *testing.T) {
	cases := []struct {
		name string
		args map[string]interface{}
	}{
		{"unknown step", map[string]interface{}{"v": "{{step_9.result}}"}},
		{"unknown key", map[string]interface{}{"v": "{{step_1.missing}}"}},
		{"index out of range", map[string]interface{}{"v": "{{step_1.messages.7}}"}},
		{"descend into scalar", map[string]interface{}{"v": "{{step_1.result.deeper}}"}},
		{"non-numeric index", map[string]interface{}{"v": "{{step_1.messages.first}}"}},
	}
	for _, tc := range cases {
		if _, err := ResolveArguments(tc.args, sampleOutputs()); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestResolveLeavesPlainValuesAlone(t *testing.T) {
	args := map[string]interface{}{
		"text":  "no placeholders here",
		"num":   float64(7),
		"truth": true,
	}
	resolved, err := ResolveArguments(args, nil)
	if err != nil {
		t.Fatalf("ResolveArguments: %v", err)
	}
	if !reflect.DeepEqual(resolved, args) {
		t.Fatalf("resolved = %v", resolved)
	}
}
