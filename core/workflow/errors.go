package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is returned when a run is stopped at a step boundary.
	ErrCancelled = errors.New("workflow run cancelled")
	// ErrJobNotFound is returned by job stores for unknown ids.
	ErrJobNotFound = errors.New("workflow job not found")
	// ErrWorkflowNotFound is returned by the catalog for unknown manifest ids.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrAlreadyCommitted is returned when a step output is written twice.
	ErrAlreadyCommitted = errors.New("step output already committed")
)

// StructuralError reports a malformed manifest. Path names the offending
// field, e.g. "steps[1].type".
type StructuralError struct {
	Path string
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return "invalid manifest: " + e.Msg
	}
	return fmt.Sprintf("invalid manifest: %s: %s", e.Path, e.Msg)
}

// LogicError is one template reference that does not resolve against the
// declared output schemas.
type LogicError struct {
	// Location is the manifest location holding the template, e.g.
	// "steps.s2.params.text" or "outputs.summary".
	Location string
	// Path is the reference that failed to resolve, when there is one.
	Path string
	Err  error
	// ForwardRef marks a reference to a step declared at or after the
	// referencing step.
	ForwardRef bool
}

func (e LogicError) Error() string {
	msg := e.Location + ": "
	if e.ForwardRef {
		msg += "forward reference to " + e.Path
	} else if e.Err != nil {
		msg += e.Err.Error()
	} else {
		msg += "unresolved reference " + e.Path
	}
	return msg
}

func (e LogicError) Unwrap() error { return e.Err }

// LogicErrors is the result of a failed logic check.
type LogicErrors []LogicError

func (e LogicErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, le := range e {
		parts = append(parts, le.Error())
	}
	return fmt.Sprintf("%d logic error(s): %s", len(e), strings.Join(parts, "; "))
}

// InputValidationError rejects runtime inputs before a run starts.
type InputValidationError struct {
	Input string
	Msg   string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("input %q: %s", e.Input, e.Msg)
}

// UnresolvedReferenceError is returned when a template path does not exist
// in the scope it is resolved against.
type UnresolvedReferenceError struct {
	Path string
}

func (e *UnresolvedReferenceError) Error() string {
	return "unresolved reference " + e.Path
}

// ParamsValidationError reports resolved params rejected by a step schema.
type ParamsValidationError struct {
	StepID string
	Err    error
}

func (e *ParamsValidationError) Error() string {
	return fmt.Sprintf("step %s params invalid: %v", e.StepID, e.Err)
}

func (e *ParamsValidationError) Unwrap() error { return e.Err }

// StepExecutionError wraps a failure raised by a step implementation.
type StepExecutionError struct {
	StepID   string
	StepType string
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.StepType, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// RunError is returned by Engine.Run when a started run fails.
type RunError struct {
	JobID  string
	StepID string
	Err    error
}

func (e *RunError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("workflow run %s failed: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("workflow run %s failed at step %s: %v", e.JobID, e.StepID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
