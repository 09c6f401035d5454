package workflow

import (
	"github.com/cordum/blackboard/core/infra/schema"
	"github.com/cordum/blackboard/core/steps"
)

// Repeated stands for an array of unknown length whose items all look like
// Item. Any integer index yields Item.
type Repeated struct {
	Item any
}

// opaque stands for a value whose shape is not declared. Every access on it
// succeeds.
type opaque struct{}

// MockBlackboard mirrors the blackboard shape using placeholders derived
// from declared input types and step output schemas.
type MockBlackboard struct {
	inputs map[string]any
	steps  map[string]any
}

// NewMockBlackboard builds placeholders for every input and every step whose
// type is registered, regardless of conditions.
func NewMockBlackboard(m *Manifest, reg *steps.Registry) *MockBlackboard {
	mock := &MockBlackboard{inputs: map[string]any{}, steps: map[string]any{}}
	for name, decl := range m.Inputs {
		mock.inputs[name] = inputPlaceholder(decl.Type)
	}
	for _, st := range m.Steps {
		if out, ok := reg.OutputSchema(st.Type); ok {
			mock.steps[st.ID] = Placeholder(out)
		}
	}
	return mock
}

// limitTo returns a view exposing only the given step ids.
func (m *MockBlackboard) limitTo(ids []string) *MockBlackboard {
	view := &MockBlackboard{inputs: m.inputs, steps: map[string]any{}}
	for _, id := range ids {
		if v, ok := m.steps[id]; ok {
			view.steps[id] = v
		}
	}
	return view
}

func (m *MockBlackboard) Lookup(root string) (any, bool) {
	switch root {
	case "inputs":
		return m.inputs, true
	case "steps":
		return m.steps, true
	}
	return nil, false
}

// Placeholder builds a representative value for a JSON schema. Objects with
// declared properties only expose those properties.
func Placeholder(s map[string]any) any {
	switch schema.PrimaryType(s) {
	case "string":
		return ""
	case "integer":
		return 0
	case "number":
		return 0.0
	case "boolean":
		return false
	case "null":
		return nil
	case "array":
		if items, ok := s["items"].(map[string]any); ok {
			return Repeated{Item: Placeholder(items)}
		}
		return Repeated{Item: opaque{}}
	case "object":
		props := schema.Properties(s)
		if len(props) == 0 {
			return opaque{}
		}
		out := make(map[string]any, len(props))
		for name, prop := range props {
			out[name] = Placeholder(prop)
		}
		return out
	}
	return opaque{}
}

func inputPlaceholder(t InputType) any {
	switch t {
	case InputInt:
		return 0
	case InputFloat:
		return 0.0
	case InputBool:
		return false
	case InputStringList, InputFileList:
		return Repeated{Item: ""}
	default:
		return ""
	}
}
