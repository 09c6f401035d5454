package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Properties returns the top-level "properties" map of an object schema.
func Properties(schema map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		if prop, ok := raw.(map[string]any); ok {
			out[name] = prop
		}
	}
	return out
}

// PrimaryType returns the first non-null "type" of a property schema.
func PrimaryType(prop map[string]any) string {
	switch t := prop["type"].(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	case []string:
		for _, s := range t {
			if s != "null" {
				return s
			}
		}
	}
	return ""
}

// ApplyDefaults returns a copy of params with every missing top-level property
// that declares a default filled in.
func ApplyDefaults(schema map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for name, prop := range Properties(schema) {
		if _, ok := out[name]; ok {
			continue
		}
		if def, ok := prop["default"]; ok {
			out[name] = cloneJSON(def)
		}
	}
	return out
}

// CoerceStrings parses top-level string values whose declared type is not a
// string: "true" to a boolean, "42" to a number, a JSON list literal to an
// array. A plain string given for an array property becomes a one-item list.
// Values that do not parse are left for validation to reject.
func CoerceStrings(schema map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for name, prop := range Properties(schema) {
		raw, ok := out[name].(string)
		if !ok {
			continue
		}
		text := strings.TrimSpace(raw)
		switch PrimaryType(prop) {
		case "boolean":
			if b, err := strconv.ParseBool(strings.ToLower(text)); err == nil {
				out[name] = b
			}
		case "integer":
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				out[name] = n
			}
		case "number":
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				out[name] = f
			}
		case "array":
			if strings.HasPrefix(text, "[") {
				var list []any
				if err := json.Unmarshal([]byte(text), &list); err == nil {
					out[name] = list
					continue
				}
			}
			if text == "" {
				out[name] = []any{}
				continue
			}
			out[name] = []any{raw}
		case "object":
			if strings.HasPrefix(text, "{") {
				var obj map[string]any
				if err := json.Unmarshal([]byte(text), &obj); err == nil {
					out[name] = obj
				}
			}
		}
	}
	return out
}

func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneJSON(item)
		}
		return out
	default:
		return v
	}
}
