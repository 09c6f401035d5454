package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCompletionTimeout = 150 * time.Second

// OpenAIProvider talks to any server exposing the OpenAI chat completions API
// (OpenAI, vLLM, Ollama's /v1, LM Studio).
type OpenAIProvider struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider builds a provider for baseURL (for example http://host:11434/v1).
func NewOpenAIProvider(baseURL, model, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		url:    strings.TrimRight(baseURL, "/"),
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: defaultCompletionTimeout},
	}
}

// Complete implements the model provider contract.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("empty conversation")
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(&chatRequest{Model: model, Messages: req.Messages})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
