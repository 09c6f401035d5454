package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/cordum/blackboard/core/steps"
)

// funcStep is a configurable step type for engine tests.
type funcStep struct {
	name  string
	props map[string]any
	run   func(ctx context.Context, env steps.Env, params map[string]any) (steps.Output, error)
}

func (s funcStep) Type() string { return s.name }

func (s funcStep) ParamsSchema() map[string]any {
	return steps.ParamsSchema(steps.CommonDefaults{}, s.props)
}

func (s funcStep) OutputSchema() map[string]any { return steps.OutputSchema(nil) }

func (s funcStep) Run(ctx context.Context, env steps.Env, params map[string]any) (steps.Output, error) {
	return s.run(ctx, env, params)
}

var errBoom = errors.New("boom")

// testRegistry holds the built-in steps plus:
//   - fail: always errors
//   - explode: panics
//   - peek: reports the step ids visible in its "board" param
func testRegistry(t *testing.T) *steps.Registry {
	t.Helper()
	reg := steps.NewDefaultRegistry()
	reg.MustRegister(
		funcStep{name: "fail", run: func(context.Context, steps.Env, map[string]any) (steps.Output, error) {
			return nil, errBoom
		}},
		funcStep{name: "explode", run: func(context.Context, steps.Env, map[string]any) (steps.Output, error) {
			panic("kaboom")
		}},
		funcStep{
			name:  "peek",
			props: map[string]any{"board": map[string]any{"type": "object"}},
			run: func(_ context.Context, _ steps.Env, params map[string]any) (steps.Output, error) {
				board, _ := params["board"].(map[string]any)
				ids := make([]string, 0, len(board))
				for id := range board {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				return &steps.BaseOutput{Content: []string{strings.Join(ids, ",")}}, nil
			},
		},
	)
	return reg
}

func mustParse(t *testing.T, reg *steps.Registry, src string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(src), reg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

// recorder collects events and renders them as "type:detail" strings.
type recorder struct {
	events []Event
}

func (r *recorder) callback(evt Event) error {
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) trace() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		detail := evt.StepID
		if evt.Type == EventStatus {
			detail = evt.Status
		}
		out = append(out, string(evt.Type)+":"+detail)
	}
	return out
}

const echoManifest = `
name: echo topic
description: echo a topic
inputs:
  topic:
    type: string
    description: what to echo
steps:
  - id: s1
    type: echo
    params:
      text: "{{ inputs.topic }}"
outputs:
  out:
    description: echoed topic
    value: "{{ steps.s1.content[0] }}"
`
