package steps

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cordum/blackboard/core/agent"
	"github.com/cordum/blackboard/core/workspace"
)

func newTestJob(t *testing.T) *workspace.JobContext {
	t.Helper()
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	job, err := mgr.CreateJob("steps test")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// recordingProvider answers each call with reply(prompt) and records the
// user prompts it saw.
type recordingProvider struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (p *recordingProvider) Complete(_ context.Context, req agent.Request) (string, error) {
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == agent.RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	return p.reply(prompt)
}

func (p *recordingProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func newAgents(t *testing.T, reply func(string) (string, error)) (*agent.Registry, *recordingProvider) {
	t.Helper()
	provider := &recordingProvider{reply: reply}
	reg := agent.NewRegistry(provider)
	if err := reg.Register(agent.Blueprint{Name: "writer", SystemPrompt: "You write."}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg, provider
}

func upper(prompt string) (string, error) { return strings.ToUpper(prompt), nil }
