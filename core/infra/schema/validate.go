package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiled is a schema compiled once and reused for many validations.
type Compiled struct {
	id     string
	schema *jsonschema.Schema
}

// Violation names the first failing location of a validation error.
type Violation struct {
	// Path is a dotted/bracket path such as "steps[1].type".
	Path    string
	Message string
}

func (v Violation) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Compile compiles a JSON schema payload under an in-memory id.
func Compile(id string, schema []byte) (*Compiled, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Compiled{id: id, schema: compiled}, nil
}

// CompileMap compiles an inline schema map.
func CompileMap(id string, schema map[string]any) (*Compiled, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return Compile(id, data)
}

// Validate checks value against the compiled schema. Failures are returned as
// a Violation wrapping the underlying validation error.
func (c *Compiled) Validate(value any) error {
	if c == nil || c.schema == nil {
		return fmt.Errorf("schema not compiled")
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := c.schema.Validate(payload); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationFailure{Violation: leafViolation(verr), cause: err}
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidationFailure is returned by Validate when the payload does not conform.
type ValidationFailure struct {
	Violation Violation
	cause     error
}

func (f *ValidationFailure) Error() string {
	return "schema validation failed: " + f.Violation.Error()
}

func (f *ValidationFailure) Unwrap() error { return f.cause }

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	compiled, err := Compile(id, schema)
	if err != nil {
		return err
	}
	return compiled.Validate(value)
}

// ValidateMap validates a value against an inline schema map.
func ValidateMap(schema map[string]any, value any) error {
	compiled, err := CompileMap("inline", schema)
	if err != nil {
		return err
	}
	return compiled.Validate(value)
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

func leafViolation(err *jsonschema.ValidationError) Violation {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := pointerToPath(leaf.InstanceLocation)
	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		if m := quotedName.FindStringSubmatch(leaf.Message); len(m) == 2 {
			path = joinPath(path, m[1])
		}
	}
	return Violation{Path: path, Message: leaf.Message}
}

func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(seg)
	}
	return b.String()
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// normalizeValue converts arbitrary Go values into the JSON-decoded shapes the
// validator understands.
func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case string, bool, float64:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	}
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
