package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekBackend serves DeepSeek models over their OpenAI-compatible
// HTTP API.
type DeepSeekBackend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type deepseekRequest struct {
	Model       string            `json:"model"`
	Messages    []deepseekMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	N           int               `json:"n,omitempty"`
}

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewDeepSeekBackend creates a new DeepSeek backend.
func NewDeepSeekBackend(apiKey string) (*DeepSeekBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}

	return &DeepSeekBackend{
		apiKey:     apiKey,
		baseURL:    deepseekBaseURL,
		httpClient: &http.Client{},
	}, nil
}

// Provider returns the backend identity.
func (b *DeepSeekBackend) Provider() Provider {
	return ProviderDeepSeek
}

// Models returns the list of supported DeepSeek models.
func (b *DeepSeekBackend) Models() []string {
	return []string{
		"deepseek-chat",
		"deepseek-coder",
		"deepseek-reasoner",
	}
}

// Ping issues a minimal generation to confirm the backend is reachable.
func (b *DeepSeekBackend) Ping(ctx context.Context) error {
	_, err := b.Generate(ctx, b.Models()[0], GenerateRequest{Prompt: "ping", MaxTokens: 1})
	return err
}

// Generate sends a prompt to DeepSeek.
func (b *DeepSeekBackend) Generate(ctx context.Context, model string, req GenerateRequest) (*Generation, error) {
	resp, err := b.complete(ctx, model, req.Prompt, req.MaxTokens, req.Temperature, 1)
	if err != nil {
		return nil, err
	}
	return &Generation{
		Text:     resp.Choices[0].Message.Content,
		Provider: ProviderDeepSeek,
		Model:    model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// GenerateBatch uses the API's n parameter to sample multiple completions
// in one call.
func (b *DeepSeekBackend) GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error) {
	if req.NumSamples <= 0 {
		return nil, fmt.Errorf("batch requires at least one sample, got %d", req.NumSamples)
	}

	resp, err := b.complete(ctx, model, req.Prompt, req.MaxTokens, req.Temperature, req.NumSamples)
	if err != nil {
		return nil, err
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
		Provider:       ProviderDeepSeek,
		Model:          model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (b *DeepSeekBackend) complete(ctx context.Context, model, prompt string, maxTokens int, temperature float64, n int) (*deepseekResponse, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqBody := deepseekRequest{
		Model: model,
		Messages: []deepseekMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if n > 1 {
		reqBody.N = n
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: ProviderDeepSeek, Temporary: true, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: ProviderDeepSeek, Temporary: true, Err: fmt.Errorf("read response body: %w", err)}
	}

	var dsResp deepseekResponse
	if err := json.Unmarshal(body, &dsResp); err != nil {
		return nil, &Error{Provider: ProviderDeepSeek, Status: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}

	if dsResp.Error != nil {
		return nil, &Error{
			Provider: ProviderDeepSeek,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s (type: %s, code: %s)", dsResp.Error.Message, dsResp.Error.Type, dsResp.Error.Code),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: ProviderDeepSeek, Status: resp.StatusCode, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	if len(dsResp.Choices) == 0 {
		return nil, &Error{Provider: ProviderDeepSeek, Err: fmt.Errorf("no choices returned")}
	}

	return &dsResp, nil
}
