package steps

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cordum/blackboard/core/infra/schema"
)

type entry struct {
	step   Step
	params *schema.Compiled
	output *schema.Compiled
}

// Registry maps step type names to implementations. It is safe for
// concurrent use; types may be registered after construction.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register compiles the step's schemas and adds it. Duplicate types are rejected.
func (r *Registry) Register(s Step) error {
	if s == nil {
		return fmt.Errorf("nil step")
	}
	name := strings.TrimSpace(s.Type())
	if name == "" {
		return fmt.Errorf("step type required")
	}
	params, err := schema.CompileMap("steps/"+name+"/params", s.ParamsSchema())
	if err != nil {
		return fmt.Errorf("step %s params schema: %w", name, err)
	}
	output, err := schema.CompileMap("steps/"+name+"/output", s.OutputSchema())
	if err != nil {
		return fmt.Errorf("step %s output schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("step type %s already registered", name)
	}
	r.entries[name] = &entry{step: s, params: params, output: output}
	return nil
}

// MustRegister panics on registration failure. Intended for process wiring.
func (r *Registry) MustRegister(steps ...Step) {
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) lookup(stepType string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[stepType]
	return e, ok
}

func (r *Registry) Lookup(stepType string) (Step, bool) {
	e, ok := r.lookup(stepType)
	if !ok {
		return nil, false
	}
	return e.step, true
}

func (r *Registry) Has(stepType string) bool {
	_, ok := r.lookup(stepType)
	return ok
}

// Types lists registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OutputSchema returns the declared output schema of a step type.
func (r *Registry) OutputSchema(stepType string) (map[string]any, bool) {
	e, ok := r.lookup(stepType)
	if !ok {
		return nil, false
	}
	return e.step.OutputSchema(), true
}

// PrepareParams coerces string scalars, applies schema defaults and validates
// resolved params for stepType.
func (r *Registry) PrepareParams(stepType string, params map[string]any) (map[string]any, error) {
	e, ok := r.lookup(stepType)
	if !ok {
		return nil, fmt.Errorf("unknown step type %s", stepType)
	}
	declared := e.step.ParamsSchema()
	prepared := schema.ApplyDefaults(declared, schema.CoerceStrings(declared, params))
	if err := e.params.Validate(prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// ValidateOutput checks a step result against its declared output schema.
func (r *Registry) ValidateOutput(stepType string, out map[string]any) error {
	e, ok := r.lookup(stepType)
	if !ok {
		return fmt.Errorf("unknown step type %s", stepType)
	}
	return e.output.Validate(out)
}

// NewDefaultRegistry registers the built-in step types.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(
		Echo{},
		FileRead{},
		AgentMap{},
		AgentProjection{},
		AgentReduce{},
	)
	return r
}
