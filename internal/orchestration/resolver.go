package orchestration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Placeholders let a plan step consume a prior step's output, written as
// {{step_1.result}} or ${step_1.items.0}. The leading segment names a step
// by its one-based position; the rest is a dot path into that step's output.
// Bracketed indices ([0]) are normalized to dot form before resolution.
var (
	curlyPlaceholder  = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	dollarPlaceholder = regexp.MustCompile(`\$\{\s*([^{}]+?)\s*\}`)
	bracketIndex      = regexp.MustCompile(`\[(\d+)\]`)
)

// ResolveArguments substitutes every placeholder in args using outputs, a
// map from step ID (step_1, step_2, ...) to that step's output. A string
// that is exactly one placeholder resolves to the referenced value with its
// original type; placeholders embedded in longer strings are interpolated as
// text. Nested maps and slices are resolved recursively.
func ResolveArguments(args map[string]interface{}, outputs map[string]map[string]interface{}) (map[string]interface{}, error) {
	if len(args) == 0 {
		return args, nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		resolved, err := resolveValue(v, outputs)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v interface{}, outputs map[string]map[string]interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return resolveString(x, outputs)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, item := range x {
			resolved, err := resolveValue(item, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			resolved, err := resolveValue(item, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, outputs map[string]map[string]interface{}) (interface{}, error) {
	// A lone placeholder keeps the referenced value's type.
	if path, ok := solePlaceholder(s); ok {
		return lookupPath(path, outputs)
	}
	var resolveErr error
	replace := func(match string, re *regexp.Regexp) string {
		path := re.FindStringSubmatch(match)[1]
		val, err := lookupPath(path, outputs)
		if err != nil {
			if resolveErr == nil {
				resolveErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	}
	out := curlyPlaceholder.ReplaceAllStringFunc(s, func(m string) string { return replace(m, curlyPlaceholder) })
	out = dollarPlaceholder.ReplaceAllStringFunc(out, func(m string) string { return replace(m, dollarPlaceholder) })
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

func solePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	for _, re := range []*regexp.Regexp{curlyPlaceholder, dollarPlaceholder} {
		if m := re.FindStringSubmatch(trimmed); m != nil && re.FindString(trimmed) == trimmed {
			return m[1], true
		}
	}
	return "", false
}

// lookupPath walks step_N.field.subfield.0 through the recorded outputs.
func lookupPath(path string, outputs map[string]map[string]interface{}) (interface{}, error) {
	path = bracketIndex.ReplaceAllString(strings.TrimSpace(path), ".$1")
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, fmt.Errorf("empty placeholder path")
	}
	stepID := segments[0]
	output, ok := outputs[stepID]
	if !ok {
		return nil, fmt.Errorf("placeholder references unknown or incomplete step %q", stepID)
	}
	var cur interface{} = output
	for _, seg := range segments[1:] {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("placeholder path %q: key %q not found", path, seg)
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("placeholder path %q: %q is not an array index", path, seg)
			}
			if idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("placeholder path %q: index %d out of range", path, idx)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("placeholder path %q: cannot descend into %T at %q", path, cur, seg)
		}
	}
	return cur, nil
}
