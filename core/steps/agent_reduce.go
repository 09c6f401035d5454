package steps

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultReduceSeparator   = "\n\n---\n\n"
	defaultReduceInstruction = "Please synthesize the above information into a single, cohesive report."
)

// AgentReduce combines many inputs into a single agent response.
type AgentReduce struct{}

type agentReduceParams struct {
	CommonParams
	Agent                string   `json:"agent"`
	Prompts              []string `json:"prompts"`
	Separator            string   `json:"separator"`
	ReductionInstruction string   `json:"reduction_instruction"`
}

type AgentReduceOutput struct {
	BaseOutput
}

func (AgentReduce) Type() string { return "agent_reduce" }

func (AgentReduce) ParamsSchema() map[string]any {
	return ParamsSchema(CommonDefaults{
		WriteResponseToFile:   true,
		WriteResponseToOutput: true,
		OutputFilename:        "summary_report.md",
	}, map[string]any{
		"agent":                 stringProp(),
		"prompts":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "default": []any{}},
		"separator":             map[string]any{"type": "string", "default": defaultReduceSeparator},
		"reduction_instruction": map[string]any{"type": "string", "default": defaultReduceInstruction},
	}, "agent")
}

func (AgentReduce) OutputSchema() map[string]any { return OutputSchema(nil) }

func (AgentReduce) Run(ctx context.Context, env Env, params map[string]any) (Output, error) {
	var p agentReduceParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	_, fileContents, err := ReadInputs(env, p.FilesToRead)
	if err != nil {
		return nil, err
	}
	parts := append(append([]string{}, p.Prompts...), fileContents...)
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to reduce: prompts and files_to_read are empty")
	}
	combined := strings.Join(parts, p.Separator)
	prompt := fmt.Sprintf("I am providing multiple pieces of information below:\n\n%s\n\nTASK:\n%s", combined, p.ReductionInstruction)

	a, err := newAgent(env, p.Agent)
	if err != nil {
		return nil, err
	}
	env.logf("agent %s: reducing %d item(s)", p.Agent, len(parts))
	reply, err := a.Step(ctx, prompt)
	if err != nil {
		return nil, err
	}
	out := &AgentReduceOutput{BaseOutput: BaseOutput{Content: []string{reply}}}
	if err := Persist(env, p.CommonParams, &out.BaseOutput); err != nil {
		return nil, err
	}
	return out, nil
}
