package backend

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIBackend serves GPT models through the OpenAI SDK.
type OpenAIBackend struct {
	client openai.Client
}

// NewOpenAIBackend creates a new OpenAI backend.
func NewOpenAIBackend(apiKey string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient()
	return &OpenAIBackend{client: client}, nil
}

// Provider returns the backend identity.
func (b *OpenAIBackend) Provider() Provider {
	return ProviderOpenAI
}

// Models returns the list of supported OpenAI models.
func (b *OpenAIBackend) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-codex",
		"gpt-5.2-pro",
	}
}

// Ping issues a minimal generation to confirm the backend is reachable.
func (b *OpenAIBackend) Ping(ctx context.Context) error {
	_, err := b.Generate(ctx, b.Models()[0], GenerateRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// Generate sends a prompt to OpenAI.
func (b *OpenAIBackend) Generate(ctx context.Context, model string, req GenerateRequest) (*Generation, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("chat completions API: %w", err)}
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("no choices returned")}
	}

	return &Generation{
		Text:     resp.Choices[0].Message.Content,
		Provider: ProviderOpenAI,
		Model:    model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// GenerateBatch uses the chat API's native n parameter to sample multiple
// completions in one call.
func (b *OpenAIBackend) GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error) {
	if req.NumSamples <= 0 {
		return nil, fmt.Errorf("batch requires at least one sample, got %d", req.NumSamples)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		N:                   openai.Int(int64(req.NumSamples)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("chat completions API: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("no choices returned")}
	}

	responses := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		responses = append(responses, choice.Message.Content)
	}

	majority, count := rawMajority(responses)
	return &BatchResult{
		Responses:      responses,
		MajorityAnswer: majority,
		MajorityCount:  count,
		Provider:       ProviderOpenAI,
		Model:          model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
