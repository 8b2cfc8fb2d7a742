// Package expr implements dotted-path property access and the sandboxed
// boolean-expression grammar used by matching rules, guards, and cascade
// templates. The grammar is hand-written and fixed: it never evaluates
// host code, only comparisons and boolean connectives over a caller
// supplied environment, per the runtime's security requirement that
// dynamic expressions must not be a general-purpose scripting escape
// hatch.
package expr

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Lookup resolves a dotted path (e.g. "order.total" or "items.0.sku")
// against value, returning the raw Go value and whether the path
// resolved to anything.
func Lookup(value map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Substitute replaces every "{{dotted.path}}" placeholder in template with
// the string form of the value resolved against source. Unresolvable
// placeholders are replaced with an empty string, matching the engine's
// best-effort cascade templating contract.
func Substitute(template map[string]interface{}, source map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(template))
	for k, v := range template {
		out[k] = substituteValue(v, source)
	}
	return out
}

func substituteValue(v interface{}, source map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return substituteString(t, source)
	case map[string]interface{}:
		return Substitute(t, source)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = substituteValue(e, source)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, source map[string]interface{}) interface{} {
	const open, close = "{{", "}}"
	start := indexOf(s, open)
	if start < 0 {
		return s
	}
	end := indexOf(s[start+len(open):], close)
	if end < 0 {
		return s
	}
	path := s[start+len(open) : start+len(open)+end]
	// A placeholder that is the entire string preserves the resolved
	// value's native type instead of stringifying it.
	if start == 0 && start+len(open)+end+len(close) == len(s) {
		if val, ok := Lookup(source, path); ok {
			return val
		}
		return ""
	}
	val, _ := Lookup(source, path)
	rest := s[start+len(open)+end+len(close):]
	return s[:start] + stringify(val) + stringify(substituteString(rest, source))
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
