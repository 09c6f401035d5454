package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cordum/blackboard/core/infra/logging"
)

const projectionRetryPrompt = `Your previous response was not a valid JSON list. Please provide the list again in ["item1", "item2"] format.`

var listBlock = regexp.MustCompile(`(?s)\[\s*.*?\s*\]`)

// AgentProjection asks an agent for a list and parses the reply into
// content items, retrying once when the reply is not a list.
type AgentProjection struct{}

type agentProjectionParams struct {
	CommonParams
	Agent            string   `json:"agent"`
	Prompt           []string `json:"prompt"`
	ExpectedItemType string   `json:"expected_item_type"`
	MaxNumber        *int     `json:"max_number"`
}

type AgentProjectionOutput struct {
	BaseOutput
}

func (AgentProjection) Type() string { return "agent_projection" }

func (AgentProjection) ParamsSchema() map[string]any {
	return ParamsSchema(CommonDefaults{
		WriteResponseToFile: true,
		OutputFilename:      "extracted_list.json",
	}, map[string]any{
		"agent":              stringProp(),
		"prompt":             stringListProp(),
		"expected_item_type": map[string]any{"type": "string", "default": "strings"},
		"max_number":         map[string]any{"type": []any{"integer", "null"}, "minimum": 0},
	}, "agent", "prompt")
}

func (AgentProjection) OutputSchema() map[string]any { return OutputSchema(nil) }

func (AgentProjection) Run(ctx context.Context, env Env, params map[string]any) (Output, error) {
	var p agentProjectionParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	a, err := newAgent(env, p.Agent)
	if err != nil {
		return nil, err
	}
	if err := attachInputs(env, a, p.FilesToRead); err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("%s\n\nIMPORTANT: You must return the result as a valid JSON list of %s. "+
		`Example format: ["item1", "item2"]. Respond ONLY with the JSON list.`,
		strings.Join(p.Prompt, "\n\n"), p.ExpectedItemType)

	reply, err := a.Step(ctx, prompt)
	if err != nil {
		return nil, err
	}
	items := ParseList(reply)
	if len(items) == 0 {
		env.logf("agent %s: reply was not a list, retrying", p.Agent)
		reply, err = a.Step(ctx, projectionRetryPrompt)
		if err != nil {
			return nil, err
		}
		items = ParseList(reply)
	}
	if p.MaxNumber != nil && len(items) > *p.MaxNumber {
		items = items[:*p.MaxNumber]
	}
	out := &AgentProjectionOutput{BaseOutput: BaseOutput{Content: items}}
	if err := Persist(env, p.CommonParams, &out.BaseOutput); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseList extracts a list of strings from model output. It accepts a bare
// JSON list, a JSON list embedded in prose, or bullet lines.
func ParseList(text string) []string {
	if items, ok := decodeList(strings.TrimSpace(text)); ok {
		return items
	}
	if block := listBlock.FindString(text); block != "" {
		if items, ok := decodeList(block); ok {
			return items
		}
		logging.Warn("steps", "list-like block failed to parse", "block", block)
	}
	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "*") && !strings.HasPrefix(line, "•") {
			continue
		}
		bullets = append(bullets, strings.TrimSpace(strings.TrimLeft(line, "-*•")))
	}
	if len(bullets) > 0 {
		return bullets
	}
	return []string{}
}

func decodeList(text string) ([]string, bool) {
	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			items = append(items, s)
			continue
		}
		data, err := json.Marshal(item)
		if err != nil {
			return nil, false
		}
		items = append(items, string(data))
	}
	return items, true
}
