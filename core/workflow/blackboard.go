package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Blackboard is the run-scoped state templates resolve against. Inputs are
// fixed at construction; each step output is committed whole, once.
type Blackboard struct {
	mu     sync.RWMutex
	inputs map[string]any
	steps  map[string]map[string]any
	order  []string
}

// NewBlackboard seeds a blackboard with a copy of the run inputs.
func NewBlackboard(inputs map[string]any) *Blackboard {
	seeded := make(map[string]any, len(inputs))
	for k, v := range inputs {
		seeded[k] = deepCopy(v)
	}
	return &Blackboard{inputs: seeded, steps: map[string]map[string]any{}}
}

// Commit publishes a complete step output. A step id can be committed once.
func (b *Blackboard) Commit(stepID string, output map[string]any) error {
	if stepID == "" {
		return fmt.Errorf("step id required")
	}
	record := deepCopy(output).(map[string]any)
	if record == nil {
		record = map[string]any{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.steps[stepID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyCommitted, stepID)
	}
	b.steps[stepID] = record
	b.order = append(b.order, stepID)
	return nil
}

// Has reports whether a step output has been committed.
func (b *Blackboard) Has(stepID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.steps[stepID]
	return ok
}

// StepIDs lists committed steps in commit order.
func (b *Blackboard) StepIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Lookup implements Scope. The returned maps alias committed records and
// must only be read; Template.Resolve copies whatever it hands out.
func (b *Blackboard) Lookup(root string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch root {
	case "inputs":
		return b.inputs, true
	case "steps":
		view := make(map[string]any, len(b.steps))
		for id, rec := range b.steps {
			view[id] = rec
		}
		return view, true
	}
	return nil, false
}

// Snapshot returns a deep copy in the external {"inputs", "steps"} shape.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	steps := make(map[string]any, len(b.steps))
	for id, rec := range b.steps {
		steps[id] = deepCopy(rec)
	}
	return map[string]any{
		"inputs": deepCopy(b.inputs),
		"steps":  steps,
	}
}

func (b *Blackboard) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
