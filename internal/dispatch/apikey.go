package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocx/backend/internal/core"
)

// Provider is an LLM API adapter, keyed by Agent.ProviderTag. OpenAI-style
// chat-completions providers (OpenAI, Azure OpenAI, Groq, Together,
// Fireworks, vLLM, Ollama compatibility mode) all share this wire shape, so
// one adapter covers every ProviderTag that sets BaseURL accordingly.
type Provider interface {
	// Call sends the turn prompt to the provider and returns its raw text
	// answer. apiKey is the already-decrypted credential.
	Call(ctx context.Context, apiKey, model, systemPrompt, taskPrompt string) (string, error)
}

var providers = map[string]Provider{
	"openai":    &openAIProvider{baseURL: "https://api.openai.com/v1/chat/completions"},
	"azure":     &openAIProvider{baseURL: "https://api.openai.azure.com/openai/v1/chat/completions"},
	"groq":      &openAIProvider{baseURL: "https://api.groq.com/openai/v1/chat/completions"},
	"together":  &openAIProvider{baseURL: "https://api.together.xyz/v1/chat/completions"},
	"fireworks": &openAIProvider{baseURL: "https://api.fireworks.ai/inference/v1/chat/completions"},
}

// RegisterProvider installs a Provider under tag, overwriting any built-in
// of the same name. Used by deployments wiring a self-hosted vLLM/Ollama
// endpoint under a custom ProviderTag.
func RegisterProvider(tag string, p Provider) {
	providers[tag] = p
}

// openAIProvider implements the OpenAI chat-completions wire format, shared
// by every OpenAI-compatible provider.
type openAIProvider struct {
	baseURL string
	client  http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *openAIProvider) Call(ctx context.Context, apiKey, model, systemPrompt, taskPrompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: taskPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("invalid provider response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// dispatchAPIKey decrypts the agent's stored key, resolves its provider
// adapter, and calls the LLM. The raw text answer is wrapped as-is in
// TurnResponse.Answer; the Scorer is responsible for interpreting it per
// the task's scoring method.
func dispatchAPIKey(ctx context.Context, agent *core.Agent, payload *TurnPayload, apiKey string, timeout time.Duration) *TurnResult {
	start := time.Now()

	provider, ok := providers[agent.ProviderTag]
	if !ok {
		return &TurnResult{
			Kind:         core.TurnUpstreamError,
			ErrorMessage: fmt.Sprintf("unknown provider tag %q", agent.ProviderTag),
			CompletedAt:  time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := provider.Call(ctx, apiKey, agent.ModelName, payload.SystemPrompt, payload.TaskPrompt)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &TurnResult{Kind: core.TurnTimeout, ErrorMessage: "provider call timed out", ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
		}
		return &TurnResult{Kind: core.TurnUpstreamError, ErrorMessage: err.Error(), ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
	}

	return &TurnResult{
		Kind:        core.TurnOK,
		Response:    &TurnResponse{Answer: answer},
		RawResponse: answer,
		ElapsedMS:   elapsed.Milliseconds(),
		CompletedAt: time.Now(),
	}
}
