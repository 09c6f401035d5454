package agent

import "context"

// Role values used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is what an agent hands to a provider for one completion.
type Request struct {
	// Model overrides the provider default when set.
	Model    string
	Messages []Message
}

// ModelProvider defines a minimal interface for chat completion.
// Callers construct the message list; providers return the generated text.
type ModelProvider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to ModelProvider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
