package backend

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleBackend serves Gemini models through the genai SDK.
type GoogleBackend struct {
	client *genai.Client
}

// NewGoogleBackend creates a new Google Gemini backend.
func NewGoogleBackend(apiKey string) (*GoogleBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}

	return &GoogleBackend{client: client}, nil
}

// Provider returns the backend identity.
func (b *GoogleBackend) Provider() Provider {
	return ProviderGoogle
}

// Models returns the list of supported Gemini models.
func (b *GoogleBackend) Models() []string {
	return []string{
		"gemini-2.0-pro",
	}
}

// Ping issues a minimal generation to confirm the backend is reachable.
func (b *GoogleBackend) Ping(ctx context.Context) error {
	_, err := b.Generate(ctx, b.Models()[0], GenerateRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// Generate sends a prompt to Gemini.
func (b *GoogleBackend) Generate(ctx context.Context, model string, req GenerateRequest) (*Generation, error) {
	var cfg *genai.GenerateContentConfig
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg = &genai.GenerateContentConfig{}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}
		if req.Temperature > 0 {
			temp := float32(req.Temperature)
			cfg.Temperature = &temp
		}
	}

	resp, err := b.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, &Error{Provider: ProviderGoogle, Err: fmt.Errorf("generate content API: %w", err)}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Provider: ProviderGoogle, Err: fmt.Errorf("no candidates returned")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	gen := &Generation{
		Text:     content,
		Provider: ProviderGoogle,
		Model:    model,
	}
	if resp.UsageMetadata != nil {
		gen.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return gen, nil
}

// GenerateBatch serves the batch as concurrent single generations.
func (b *GoogleBackend) GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error) {
	return fanoutBatch(ctx, b, model, req)
}
