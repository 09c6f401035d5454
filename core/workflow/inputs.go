package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cordum/blackboard/core/infra/logging"
)

// CoerceInputs validates supplied runtime inputs against the manifest's
// declarations. Missing optional inputs take their defaults; relative file
// and dir inputs are rooted under sandboxRoot. Undeclared inputs are
// dropped.
func CoerceInputs(m *Manifest, supplied map[string]any, sandboxRoot string) (map[string]any, error) {
	out := make(map[string]any, len(m.Inputs))
	for _, name := range sortedKeys(m.Inputs) {
		decl := m.Inputs[name]
		raw, ok := supplied[name]
		if !ok || raw == nil {
			if decl.Required() {
				return nil, &InputValidationError{Input: name, Msg: "required"}
			}
			raw = decl.Default
		}
		v, err := coerceInput(decl.Type, raw, sandboxRoot)
		if err != nil {
			return nil, &InputValidationError{Input: name, Msg: fmt.Sprintf("cannot use as %s: %v", decl.Type, err)}
		}
		warnPathKind(name, decl.Type, v)
		out[name] = v
	}
	return out, nil
}

func coerceInput(t InputType, raw any, root string) (any, error) {
	switch t {
	case InputString:
		return coerceString(raw)
	case InputInt:
		return coerceInt(raw)
	case InputFloat:
		return coerceFloat(raw)
	case InputBool:
		return coerceBool(raw)
	case InputFile, InputDir:
		s, err := coerceString(raw)
		if err != nil {
			return nil, err
		}
		return rootPath(s, root)
	case InputStringList, InputFileList:
		items, err := coerceList(raw)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			s, err := coerceString(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			if t == InputFileList {
				if s, err = rootPath(s, root); err != nil {
					return nil, fmt.Errorf("item %d: %w", i, err)
				}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown input type %q", t)
}

func coerceString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case int, int64, float64, bool:
		return stringify(v), nil
	}
	return "", fmt.Errorf("expected string, got %T", raw)
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", raw)
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}

func coerceBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "on", "1":
			return true, nil
		case "false", "no", "n", "off", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %v", raw)
}

// coerceList accepts lists, JSON list strings, and wraps a lone scalar.
func coerceList(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var items []any
			if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
				return items, nil
			}
		}
		return []any{v}, nil
	case int, int64, float64, bool:
		return []any{v}, nil
	}
	return nil, fmt.Errorf("expected list, got %T", raw)
}

func rootPath(p, root string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) || root == "" {
		return filepath.Clean(p), nil
	}
	joined := filepath.Join(root, p)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox root", p)
	}
	return joined, nil
}

func warnPathKind(name string, t InputType, v any) {
	path, ok := v.(string)
	if !ok || (t != InputFile && t != InputDir) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		logging.Warn("workflow-engine", "input path does not exist", "input", name, "path", path)
		return
	}
	if t == InputFile && info.IsDir() {
		logging.Warn("workflow-engine", "input path is a directory, expected file", "input", name, "path", path)
	}
	if t == InputDir && !info.IsDir() {
		logging.Warn("workflow-engine", "input path is not a directory", "input", name, "path", path)
	}
}
