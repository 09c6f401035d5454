// Package steps defines the step protocol the workflow engine drives and the
// built-in step types.
package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cordum/blackboard/core/agent"
	"github.com/cordum/blackboard/core/workspace"
)

// Step is one pluggable unit of work. Params arrive already resolved,
// defaulted and validated against ParamsSchema.
type Step interface {
	Type() string
	ParamsSchema() map[string]any
	OutputSchema() map[string]any
	Run(ctx context.Context, env Env, params map[string]any) (Output, error)
}

// AgentFactory builds fresh agents by blueprint name.
type AgentFactory interface {
	NewAgent(name string) (*agent.Agent, error)
}

// Env is what a step sees of the run invoking it.
type Env struct {
	StepID string
	Job    *workspace.JobContext
	Agents AgentFactory
	// Log emits a progress log line for the run.
	Log func(msg string)
}

func (e Env) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log(fmt.Sprintf(format, args...))
	}
}

// Output is a step result. Every output embeds BaseOutput.
type Output interface {
	Base() *BaseOutput
}

// BaseOutput is the shape every step output shares. When both lists are
// non-empty they describe the same items positionally.
type BaseOutput struct {
	Content   []string `json:"content"`
	FilePaths []string `json:"file_paths"`
}

func (b *BaseOutput) Base() *BaseOutput { return b }

// CommonParams are accepted by every step type.
type CommonParams struct {
	FilesToRead           []string `json:"files_to_read"`
	SubDirectory          string   `json:"sub_directory"`
	WriteResponseToFile   bool     `json:"write_response_to_file"`
	WriteResponseToOutput bool     `json:"write_response_to_output"`
	OutputFilename        string   `json:"output_filename"`
	OutputFilenamePrefix  string   `json:"output_filename_prefix"`
}

// Decode copies a validated params map into a typed struct.
func Decode(params map[string]any, dst any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// ToMap converts an output into its blackboard form.
func ToMap(out Output) (map[string]any, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return m, nil
}
