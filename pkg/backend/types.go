package backend

import "strings"

// GenerateRequest carries the parameters for a single generation.
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// BatchRequest carries the parameters for a batch of independent samples
// of the same prompt.
type BatchRequest struct {
	Prompt      string
	NumSamples  int
	MaxTokens   int
	Temperature float64
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Generation is one model response plus its usage data.
type Generation struct {
	Text     string
	Provider Provider
	Model    string
	Usage    Usage
}

// BatchResult holds the samples from a batch generation together with a
// raw exact-match majority over trimmed responses. Callers that need
// normalization-aware voting recompute the vote themselves.
type BatchResult struct {
	Responses      []string
	MajorityAnswer string
	MajorityCount  int
	Provider       Provider
	Model          string
	Usage          Usage
}

// rawMajority tallies exact matches over trimmed responses. Ties resolve
// to the first-encountered response in sample order.
func rawMajority(responses []string) (string, int) {
	counts := make(map[string]int, len(responses))
	best := ""
	bestCount := 0
	for _, r := range responses {
		key := strings.TrimSpace(r)
		counts[key]++
		if counts[key] > bestCount {
			best = key
			bestCount = counts[key]
		}
	}
	return best, bestCount
}
