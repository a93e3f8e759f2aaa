package backend

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend returns deterministic responses for local runs and tests.
// Responses can be keyed by prompt, or scripted in call order via Script.
// An optional Fail function injects errors per call.
type MockBackend struct {
	mu              sync.Mutex
	responses       map[string]string
	script          []string
	scriptIdx       int
	defaultResponse string
	calls           []string
	failFn          func(callIndex int, prompt string) error
}

// NewMockBackend creates a mock backend with a default response.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockBackendWithResponses creates a mock backend with prompt-keyed
// responses.
func NewMockBackendWithResponses(responses map[string]string, defaultResponse string) *MockBackend {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockBackend{responses: responses, defaultResponse: defaultResponse}
}

// Script queues responses returned in call order, taking precedence over
// prompt-keyed responses.
func (b *MockBackend) Script(responses ...string) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, responses...)
	return b
}

// FailWith installs an error injector consulted before each call.
func (b *MockBackend) FailWith(fn func(callIndex int, prompt string) error) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFn = fn
	return b
}

// Calls returns the prompts seen so far, in call order.
func (b *MockBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns the number of Generate calls made.
func (b *MockBackend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Provider returns the backend identity.
func (b *MockBackend) Provider() Provider {
	return ProviderMock
}

// Models returns the list of supported mock models.
func (b *MockBackend) Models() []string {
	return []string{"mock-1"}
}

// Ping always succeeds.
func (b *MockBackend) Ping(context.Context) error {
	return nil
}

// Generate returns a deterministic response for the prompt.
func (b *MockBackend) Generate(_ context.Context, model string, req GenerateRequest) (*Generation, error) {
	if model == "" {
		model = "mock-1"
	}

	b.mu.Lock()
	idx := len(b.calls)
	b.calls = append(b.calls, req.Prompt)
	failFn := b.failFn

	var text string
	var scripted bool
	if b.scriptIdx < len(b.script) {
		text = b.script[b.scriptIdx]
		b.scriptIdx++
		scripted = true
	}
	b.mu.Unlock()

	if failFn != nil {
		if err := failFn(idx, req.Prompt); err != nil {
			return nil, err
		}
	}

	if !scripted {
		if response, ok := b.responses[req.Prompt]; ok {
			text = response
		} else {
			text = fmt.Sprintf("%s\n%s", b.defaultResponse, req.Prompt)
		}
	}

	return &Generation{
		Text:     text,
		Provider: ProviderMock,
		Model:    model,
		Usage:    Usage{PromptTokens: len(req.Prompt) / 4, CompletionTokens: len(text) / 4, TotalTokens: (len(req.Prompt) + len(text)) / 4},
	}, nil
}

// GenerateBatch serves the batch as sequential deterministic generations.
func (b *MockBackend) GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error) {
	if req.NumSamples <= 0 {
		return nil, fmt.Errorf("batch requires at least one sample, got %d", req.NumSamples)
	}

	responses := make([]string, 0, req.NumSamples)
	var usage Usage
	for i := 0; i < req.NumSamples; i++ {
		gen, err := b.Generate(ctx, model, GenerateRequest{
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return nil, err
		}
		responses = append(responses, gen.Text)
		usage = usage.Add(gen.Usage)
	}

	majority, count := rawMajority(responses)
	return &BatchResult{
		Responses:      responses,
		MajorityAnswer: majority,
		MajorityCount:  count,
		Provider:       ProviderMock,
		Model:          model,
		Usage:          usage,
	}, nil
}
