package secrets

import (
	"fmt"
	"os"
	"strings"
)

const (
	secretPrefix = "secret://"
	redacted     = "<redacted>"
)

// IsRef reports whether s is a secret reference such as "secret://env/API_KEY".
func IsRef(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), secretPrefix)
}

// Resolve returns the value a reference points at. Supported forms are
// secret://env/NAME and secret://file/<path>. Plain strings are returned as is.
func Resolve(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !IsRef(value) {
		return value, nil
	}
	rest := strings.TrimPrefix(value, secretPrefix)
	kind, target, ok := strings.Cut(rest, "/")
	if !ok || target == "" {
		return "", fmt.Errorf("malformed secret reference")
	}
	switch kind {
	case "env":
		v, ok := os.LookupEnv(target)
		if !ok {
			return "", fmt.Errorf("secret env %s not set", target)
		}
		return v, nil
	case "file":
		data, err := os.ReadFile("/" + strings.TrimPrefix(target, "/"))
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported secret source %q", kind)
	}
}

// RedactInputs returns a copy of run inputs with secret references replaced,
// suitable for persisting on a job record or schedule.
func RedactInputs(inputs map[string]any) (map[string]any, bool) {
	out, changed := redact(inputs)
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, changed
}

// ContainsSecretRefs returns true if any string value contains a secret reference.
func ContainsSecretRefs(value any) bool {
	_, found := redact(value)
	return found
}

func redact(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		if IsRef(v) {
			return redacted, true
		}
		return v, false
	case map[string]any:
		changed := false
		out := make(map[string]any, len(v))
		for k, child := range v {
			red, c := redact(child)
			changed = changed || c
			out[k] = red
		}
		return out, changed
	case []any:
		changed := false
		out := make([]any, len(v))
		for i, child := range v {
			red, c := redact(child)
			changed = changed || c
			out[i] = red
		}
		return out, changed
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return redact(items)
	default:
		return v, false
	}
}
