package backend

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicBackend serves Claude models through the Anthropic SDK.
type AnthropicBackend struct {
	client anthropic.Client
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(apiKey string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient()
	return &AnthropicBackend{client: client}, nil
}

// Provider returns the backend identity.
func (b *AnthropicBackend) Provider() Provider {
	return ProviderAnthropic
}

// Models returns the list of supported Claude models.
func (b *AnthropicBackend) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
	}
}

// Ping issues a minimal generation to confirm the backend is reachable.
func (b *AnthropicBackend) Ping(ctx context.Context) error {
	_, err := b.Generate(ctx, b.Models()[0], GenerateRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// Generate sends a prompt to Claude.
func (b *AnthropicBackend) Generate(ctx context.Context, model string, req GenerateRequest) (*Generation, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: ProviderAnthropic, Err: fmt.Errorf("messages API: %w", err)}
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Generation{
		Text:     content,
		Provider: ProviderAnthropic,
		Model:    model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// GenerateBatch serves the batch as concurrent single generations; the
// messages API has no sampling batch endpoint.
func (b *AnthropicBackend) GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error) {
	return fanoutBatch(ctx, b, model, req)
}
