package steps

import (
	"context"
)

// Echo returns its text param as single-item content.
type Echo struct{}

type echoParams struct {
	CommonParams
	Text string `json:"text"`
}

type EchoOutput struct {
	BaseOutput
}

func (Echo) Type() string { return "echo" }

func (Echo) ParamsSchema() map[string]any {
	return ParamsSchema(CommonDefaults{WriteResponseToFile: false}, map[string]any{
		"text": stringProp(),
	}, "text")
}

func (Echo) OutputSchema() map[string]any { return OutputSchema(nil) }

func (Echo) Run(ctx context.Context, env Env, params map[string]any) (Output, error) {
	var p echoParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	out := &EchoOutput{BaseOutput: BaseOutput{Content: []string{p.Text}}}
	if err := Persist(env, p.CommonParams, &out.BaseOutput); err != nil {
		return nil, err
	}
	return out, nil
}
