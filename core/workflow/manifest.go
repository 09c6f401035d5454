package workflow

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cordum/blackboard/core/infra/schema"
	"github.com/cordum/blackboard/core/steps"
)

//go:embed manifest.schema.json
var manifestSchemaJSON []byte

var manifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *schema.Compiled {
	compiled, err := schema.Compile("workflow/manifest", manifestSchemaJSON)
	if err != nil {
		panic(fmt.Sprintf("manifest schema: %v", err))
	}
	return compiled
}

// compiledManifest holds every template of a manifest parsed once.
type compiledManifest struct {
	params     []any // per step; string leaves replaced by *Template
	conditions []*Template
	outputs    map[string]*Template
}

// Parse decodes a YAML (or JSON) manifest and validates its structure. Every
// step type must be registered in reg at this point.
func Parse(data []byte, reg *steps.Registry) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &StructuralError{Msg: fmt.Sprintf("decode: %v", err)}
	}
	doc = normalizeYAML(doc)
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &StructuralError{Msg: "document must be a mapping"}
	}
	if v, ok := root["version"]; ok && v != nil {
		if _, isString := v.(string); !isString {
			root["version"] = stringify(v)
		}
	}
	if err := manifestSchema.Validate(root); err != nil {
		var failure *schema.ValidationFailure
		if errors.As(err, &failure) {
			return nil, &StructuralError{Path: failure.Violation.Path, Msg: failure.Violation.Message}
		}
		return nil, &StructuralError{Msg: err.Error()}
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, &StructuralError{Msg: fmt.Sprintf("encode: %v", err)}
	}
	m := &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, &StructuralError{Msg: fmt.Sprintf("decode: %v", err)}
	}
	// JSON decoding turns integers into float64; keep the YAML values.
	restoreParams(m, root)
	if err := CheckStructure(m, reg); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseFile parses a manifest file. The manifest id is the file stem.
func ParseFile(path string, reg *steps.Registry) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, reg)
	if err != nil {
		return nil, err
	}
	m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m, nil
}

// CheckStructure validates a manifest built in code or decoded by Parse:
// required fields, unique step ids, known step types, coercible defaults and
// parseable templates.
func CheckStructure(m *Manifest, reg *steps.Registry) error {
	if m == nil {
		return &StructuralError{Msg: "manifest required"}
	}
	if strings.TrimSpace(m.Name) == "" {
		return &StructuralError{Path: "name", Msg: "required"}
	}
	if len(m.Steps) == 0 {
		return &StructuralError{Path: "steps", Msg: "at least one step required"}
	}
	if len(m.Outputs) == 0 {
		return &StructuralError{Path: "outputs", Msg: "at least one output required"}
	}
	for _, name := range sortedKeys(m.Inputs) {
		decl := m.Inputs[name]
		if !decl.Type.Valid() {
			return &StructuralError{Path: "inputs." + name + ".type", Msg: fmt.Sprintf("unknown input type %q", decl.Type)}
		}
		if decl.Default != nil {
			if _, err := coerceInput(decl.Type, decl.Default, ""); err != nil {
				return &StructuralError{Path: "inputs." + name + ".default", Msg: err.Error()}
			}
		}
	}
	seen := map[string]int{}
	for i, st := range m.Steps {
		if strings.TrimSpace(st.ID) == "" {
			return &StructuralError{Path: fmt.Sprintf("steps[%d].id", i), Msg: "required"}
		}
		if prev, dup := seen[st.ID]; dup {
			return &StructuralError{Path: fmt.Sprintf("steps[%d].id", i), Msg: fmt.Sprintf("duplicate step id %q (first declared at steps[%d])", st.ID, prev)}
		}
		seen[st.ID] = i
		if reg == nil || !reg.Has(st.Type) {
			return &StructuralError{Path: fmt.Sprintf("steps[%d].type", i), Msg: fmt.Sprintf("unknown step type %q", st.Type)}
		}
	}
	if _, err := m.compile(); err != nil {
		return err
	}
	return nil
}

// compile parses every template once. The result is cached on the manifest.
func (m *Manifest) compile() (*compiledManifest, error) {
	m.compileOnce.Do(func() {
		c := &compiledManifest{
			params:     make([]any, len(m.Steps)),
			conditions: make([]*Template, len(m.Steps)),
			outputs:    make(map[string]*Template, len(m.Outputs)),
		}
		for i, st := range m.Steps {
			tree, err := compileTree(st.Params, fmt.Sprintf("steps[%d].params", i))
			if err != nil {
				m.compileErr = err
				return
			}
			c.params[i] = tree
			if strings.TrimSpace(st.Condition) != "" {
				cond, err := ParseCondition(st.Condition)
				if err != nil {
					m.compileErr = &StructuralError{Path: fmt.Sprintf("steps[%d].condition", i), Msg: err.Error()}
					return
				}
				c.conditions[i] = cond
			}
		}
		for _, name := range sortedKeys(m.Outputs) {
			tmpl, err := ParseTemplate(m.Outputs[name].Value)
			if err != nil {
				m.compileErr = &StructuralError{Path: "outputs." + name + ".value", Msg: err.Error()}
				return
			}
			c.outputs[name] = tmpl
		}
		m.compiled = c
	})
	return m.compiled, m.compileErr
}

func compileTree(v any, path string) (any, error) {
	switch t := v.(type) {
	case string:
		tmpl, err := ParseTemplate(t)
		if err != nil {
			return nil, &StructuralError{Path: path, Msg: err.Error()}
		}
		return tmpl, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			compiled, err := compileTree(item, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = compiled
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			compiled, err := compileTree(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = compiled
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveTree evaluates every template leaf of a compiled params tree.
func resolveTree(v any, scope Scope) (any, error) {
	switch t := v.(type) {
	case *Template:
		return t.Resolve(scope)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := resolveTree(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := resolveTree(item, scope)
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

// visitTree calls fn for each template leaf with its dotted location.
func visitTree(v any, path string, fn func(path string, t *Template)) {
	switch t := v.(type) {
	case *Template:
		fn(path, t)
	case map[string]any:
		for _, k := range sortedKeys(t) {
			visitTree(t[k], path+"."+k, fn)
		}
	case []any:
		for i, item := range t {
			visitTree(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}

func restoreParams(m *Manifest, root map[string]any) {
	rawSteps, _ := root["steps"].([]any)
	for i := range m.Steps {
		if i >= len(rawSteps) {
			break
		}
		if step, ok := rawSteps[i].(map[string]any); ok {
			if params, ok := step["params"].(map[string]any); ok {
				m.Steps[i].Params = params
			}
		}
	}
	rawInputs, _ := root["inputs"].(map[string]any)
	for name, decl := range m.Inputs {
		if in, ok := rawInputs[name].(map[string]any); ok {
			decl.Default = in["default"]
			m.Inputs[name] = decl
		}
	}
}

// normalizeYAML converts yaml.v3 generic values into JSON-compatible ones.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeYAML(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalizeYAML(item)
		}
		return t
	default:
		return v
	}
}
