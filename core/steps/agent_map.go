package steps

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// AgentMap sends each prompt to the named agent and returns one response per
// prompt, in prompt order.
type AgentMap struct{}

type agentMapParams struct {
	CommonParams
	Agent          string   `json:"agent"`
	Prompts        []string `json:"prompts"`
	PromptsPrefix  string   `json:"prompts_prefix"`
	MaxConcurrency int      `json:"max_concurrency"`
}

type AgentMapOutput struct {
	BaseOutput
}

func (AgentMap) Type() string { return "agent_map" }

func (AgentMap) ParamsSchema() map[string]any {
	return ParamsSchema(CommonDefaults{
		WriteResponseToFile:   true,
		WriteResponseToOutput: true,
		OutputFilename:        "output.md",
	}, map[string]any{
		"agent":           stringProp(),
		"prompts":         stringListProp(),
		"prompts_prefix":  map[string]any{"type": "string", "default": ""},
		"max_concurrency": map[string]any{"type": "integer", "minimum": 1, "default": 1},
	}, "agent", "prompts")
}

func (AgentMap) OutputSchema() map[string]any { return OutputSchema(nil) }

func (AgentMap) Run(ctx context.Context, env Env, params map[string]any) (Output, error) {
	var p agentMapParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	if len(p.Prompts) == 0 {
		return nil, fmt.Errorf("prompts is empty")
	}
	prompts := make([]string, len(p.Prompts))
	for i, prompt := range p.Prompts {
		if strings.TrimSpace(p.PromptsPrefix) != "" {
			prompt = p.PromptsPrefix + " \n\n " + prompt
		}
		prompts[i] = prompt
	}

	results := make([]string, len(prompts))
	if p.MaxConcurrency <= 1 {
		// One agent carries its conversation across prompts.
		a, err := newAgent(env, p.Agent)
		if err != nil {
			return nil, err
		}
		if err := attachInputs(env, a, p.FilesToRead); err != nil {
			return nil, err
		}
		for i, prompt := range prompts {
			env.logf("agent %s: prompt %d/%d", p.Agent, i+1, len(prompts))
			reply, err := a.Step(ctx, prompt)
			if err != nil {
				return nil, fmt.Errorf("prompt %d: %w", i, err)
			}
			results[i] = reply
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.MaxConcurrency)
		for i, prompt := range prompts {
			g.Go(func() error {
				a, err := newAgent(env, p.Agent)
				if err != nil {
					return err
				}
				if err := attachInputs(env, a, p.FilesToRead); err != nil {
					return err
				}
				reply, err := a.Step(gctx, prompt)
				if err != nil {
					return fmt.Errorf("prompt %d: %w", i, err)
				}
				results[i] = reply
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := &AgentMapOutput{BaseOutput: BaseOutput{Content: results}}
	if err := Persist(env, p.CommonParams, &out.BaseOutput); err != nil {
		return nil, err
	}
	return out, nil
}
