package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/cordum/blackboard/core/infra/logging"
)

const logComponent = "agent"

// Agent runs turns against a model provider with its own memory.
type Agent struct {
	blueprint Blueprint
	provider  ModelProvider
	memory    *Memory
	now       func() time.Time
}

func New(bp Blueprint, provider ModelProvider, memory *Memory) *Agent {
	if memory == nil {
		memory = NewMemory(nil, nil)
	}
	return &Agent{blueprint: bp, provider: provider, memory: memory, now: time.Now}
}

func (a *Agent) Name() string         { return a.blueprint.Name }
func (a *Agent) Memory() *Memory      { return a.memory }
func (a *Agent) Blueprint() Blueprint { return a.blueprint }

// AddFile reads a text file into the clipboard.
func (a *Agent) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", abs, err)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("%s is not a text file", abs)
	}
	a.memory.Clipboard().AddFile(abs, string(data))
	return nil
}

// AddToolResult stores tool output on the clipboard.
func (a *Agent) AddToolResult(toolName, callID string, results []string) {
	a.memory.Clipboard().AddToolResult(toolName, callID, results)
}

// Step runs one turn: the prompt follows the history, the clipboard frame is
// appended for this call only, and the prompt and reply are recorded together
// once the provider answers. A failed turn leaves memory untouched. The
// clipboard ages once per completed turn.
func (a *Agent) Step(ctx context.Context, prompt string) (string, error) {
	if a.provider == nil {
		return "", fmt.Errorf("agent %s has no model provider", a.blueprint.Name)
	}
	turn := Message{Role: RoleUser, Content: prompt}

	history := a.memory.Messages()
	messages := make([]Message, 0, len(history)+3)
	if a.blueprint.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: a.blueprint.SystemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, turn, a.memory.ContextMessage(a.now()))

	reply, err := a.provider.Complete(ctx, Request{Model: a.blueprint.Model, Messages: messages})
	if err != nil {
		logging.Error(logComponent, "completion failed", "agent", a.blueprint.Name, "error", err)
		return "", err
	}
	a.memory.Append(turn)
	a.memory.Append(Message{Role: RoleAssistant, Content: reply})
	a.memory.Forget()
	return reply, nil
}
