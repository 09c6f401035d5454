package schema

import (
	"reflect"
	"testing"
)

func testParamsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"enabled": map[string]any{"type": "boolean", "default": false},
			"count":   map[string]any{"type": "integer"},
			"ratio":   map[string]any{"type": "number"},
			"files":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "default": []any{}},
			"label":   map[string]any{"type": []any{"string", "null"}},
		},
	}
}

func TestApplyDefaults(t *testing.T) {
	in := map[string]any{"count": 2}
	out := ApplyDefaults(testParamsSchema(), in)
	if out["enabled"] != false {
		t.Fatalf("expected default enabled=false, got %#v", out["enabled"])
	}
	if _, ok := out["files"].([]any); !ok {
		t.Fatalf("expected default files list")
	}
	if _, ok := in["enabled"]; ok {
		t.Fatalf("ApplyDefaults must not mutate its input")
	}
}

func TestCoerceStrings(t *testing.T) {
	out := CoerceStrings(testParamsSchema(), map[string]any{
		"enabled": "True",
		"count":   " 42 ",
		"ratio":   "0.5",
		"files":   `["a.md", "b.md"]`,
		"label":   "plain",
	})
	if out["enabled"] != true || out["count"] != int64(42) || out["ratio"] != 0.5 {
		t.Fatalf("unexpected scalars: %#v", out)
	}
	if !reflect.DeepEqual(out["files"], []any{"a.md", "b.md"}) {
		t.Fatalf("unexpected files: %#v", out["files"])
	}
	if out["label"] != "plain" {
		t.Fatalf("strings stay strings")
	}

	out = CoerceStrings(testParamsSchema(), map[string]any{"files": "one.md", "count": "many"})
	if !reflect.DeepEqual(out["files"], []any{"one.md"}) {
		t.Fatalf("expected scalar wrapped into list, got %#v", out["files"])
	}
	if out["count"] != "many" {
		t.Fatalf("unparseable values are left for validation")
	}
}

func TestPrimaryType(t *testing.T) {
	if got := PrimaryType(map[string]any{"type": []any{"null", "array"}}); got != "array" {
		t.Fatalf("unexpected type %q", got)
	}
	if got := PrimaryType(map[string]any{}); got != "" {
		t.Fatalf("expected empty type, got %q", got)
	}
}
