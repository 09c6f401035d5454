package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cordum/blackboard/core/steps"
)

// VerifyOptions tunes the logic check.
type VerifyOptions struct {
	// StrictOrdering reports references to steps declared at or after the
	// referencing step as forward references.
	StrictOrdering bool
}

// VerifyLogic resolves every template of m against a mock blackboard built
// from declared input types and step output schemas. It returns nil when
// every reference resolves.
func VerifyLogic(m *Manifest, reg *steps.Registry, opts VerifyOptions) LogicErrors {
	var errs LogicErrors
	compiled, err := m.compile()
	if err != nil {
		return LogicErrors{{Location: "manifest", Err: err}}
	}
	index := make(map[string]int, len(m.Steps))
	for i, st := range m.Steps {
		index[st.ID] = i
		if reg == nil || !reg.Has(st.Type) {
			errs = append(errs, LogicError{
				Location: "steps." + st.ID + ".type",
				Err:      fmt.Errorf("unknown step type %q", st.Type),
			})
		}
	}
	if reg == nil {
		return errs
	}
	mock := NewMockBlackboard(m, reg)

	check := func(location string, t *Template, scope Scope, stepIndex int) {
		if _, err := t.Resolve(scope); err != nil {
			le := LogicError{Location: location, Err: err}
			var unresolved *UnresolvedReferenceError
			if errors.As(err, &unresolved) {
				le.Path = unresolved.Path
				if stepIndex >= 0 {
					if target, ok := referencedStep(unresolved.Path); ok {
						if ti, declared := index[target]; declared && ti >= stepIndex {
							le.ForwardRef = true
						}
					}
				}
			}
			errs = append(errs, le)
		}
	}

	for i, st := range m.Steps {
		var scope Scope = mock
		stepIndex := -1
		if opts.StrictOrdering {
			earlier := make([]string, 0, i)
			for _, prev := range m.Steps[:i] {
				earlier = append(earlier, prev.ID)
			}
			scope = mock.limitTo(earlier)
			stepIndex = i
		}
		if cond := compiled.conditions[i]; cond != nil {
			check("steps."+st.ID+".condition", cond, scope, stepIndex)
		}
		visitTree(compiled.params[i], "steps."+st.ID+".params", func(path string, t *Template) {
			check(path, t, scope, stepIndex)
		})
	}
	for _, name := range sortedKeys(compiled.outputs) {
		check("outputs."+name, compiled.outputs[name], mock, -1)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// referencedStep extracts <id> from a "steps.<id>..." path.
func referencedStep(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "steps.")
	if !ok {
		return "", false
	}
	if i := strings.IndexAny(rest, ".["); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}

// Validate runs the structural and logic checks. Manifests that fail either
// must not be executed.
func Validate(m *Manifest, reg *steps.Registry, opts VerifyOptions) error {
	if err := CheckStructure(m, reg); err != nil {
		return err
	}
	if errs := VerifyLogic(m, reg, opts); len(errs) > 0 {
		return errs
	}
	return nil
}
