package classify

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/extract"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/trace"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// Classification is the routing metadata for one query.
type Classification struct {
	TaskType             string      `json:"task_type"`
	Complexity           float64     `json:"complexity"`
	RequiredCapabilities []string    `json:"required_capabilities"`
	Confidence           float64     `json:"confidence"`
	UsedLLM              bool        `json:"used_llm,omitempty"`
	Reasons              []string    `json:"reasons,omitempty"`
	Candidates           []Candidate `json:"-"`
}

// Classifier classifies queries, consulting the LLM tie-breaker only
// when the heuristic is not confident. Results are cached per query.
type Classifier struct {
	pool  *pool.Pool
	cfg   *config.Config
	rules *RuleSet
	cache *lru.Cache[string, *Classification]
}

// NewClassifier creates a classifier over the pool and config.
func NewClassifier(p *pool.Pool, cfg *config.Config) (*Classifier, error) {
	cache, err := lru.New[string, *Classification](cfg.Classifier.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("classification cache: %w", err)
	}
	return &Classifier{
		pool:  p,
		cfg:   cfg,
		rules: NewRuleSet(cfg.TaskTypes),
		cache: cache,
	}, nil
}

// Classify determines task type, capabilities, and complexity for a
// query. The heuristic result stands unless its confidence is below the
// configured threshold with multiple candidates, in which case one LLM
// call refines it. An LLM failure degrades to the heuristic result
// rather than failing the query.
func (c *Classifier) Classify(ctx context.Context, query string, tr *trace.Trace) (*Classification, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	if cached, ok := c.cache.Get(query); ok {
		return cached, nil
	}

	decision := c.rules.Heuristic(query)
	if !c.shouldUseTieBreaker(decision) {
		c.cache.Add(query, decision)
		return decision, nil
	}

	refined, err := c.classifyLLM(ctx, query, decision, tr)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("tie-breaker unavailable: %v", err))
		c.cache.Add(query, decision)
		return decision, nil
	}

	c.cache.Add(query, refined)
	return refined, nil
}

func (c *Classifier) shouldUseTieBreaker(decision *Classification) bool {
	if c.cfg.Classifier.LLMTieBreaker != nil && !*c.cfg.Classifier.LLMTieBreaker {
		return false
	}
	if decision.Confidence >= c.cfg.Classifier.ConfidenceThreshold {
		return false
	}
	return len(decision.Candidates) > 1
}

func (c *Classifier) classifyLLM(ctx context.Context, query string, decision *Classification, tr *trace.Trace) (*Classification, error) {
	prompt := buildClassifierPrompt(query, decision.Candidates)
	gen, _, err := c.pool.Generate(ctx, c.cfg.Classifier.Tier, backend.GenerateRequest{
		Prompt:    prompt,
		MaxTokens: 256,
	}, tr, "")
	if err != nil {
		return nil, err
	}

	var pick struct {
		TaskType   string  `json:"task_type"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if _, err := extract.JSON(gen.Text, &pick); err != nil {
		return nil, fmt.Errorf("classifier response invalid: %w", err)
	}
	if pick.TaskType == "" {
		return nil, fmt.Errorf("classifier response missing task_type")
	}
	if pick.Confidence < 0 || pick.Confidence > 1 {
		return nil, fmt.Errorf("classifier confidence out of range")
	}

	chosen, ok := findCandidate(decision.Candidates, pick.TaskType)
	if !ok {
		return nil, fmt.Errorf("classifier task_type %q not in candidates", pick.TaskType)
	}

	refined := &Classification{
		TaskType:             chosen.TaskType,
		Complexity:           chosen.Complexity,
		RequiredCapabilities: chosen.Capabilities,
		Confidence:           pick.Confidence,
		UsedLLM:              true,
		Reasons:              append(decision.Reasons, pick.Reason),
		Candidates:           decision.Candidates,
	}
	return refined, nil
}

func findCandidate(candidates []Candidate, taskType string) (Candidate, bool) {
	for _, c := range candidates {
		if c.TaskType == taskType {
			return c, true
		}
	}
	return Candidate{}, false
}

func buildClassifierPrompt(query string, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString("You are a routing classifier. Choose the best task_type.\n")
	sb.WriteString("Return ONLY JSON: {\"task_type\":\"...\",\"confidence\":0-1,\"reason\":\"...\"}.\n\n")
	sb.WriteString("User query:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nCandidates:\n")

	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- %s (score=%d, capabilities=%s)\n",
			c.TaskType, c.Score, strings.Join(c.Capabilities, ",")))
		if len(c.Triggers) > 0 {
			sb.WriteString(fmt.Sprintf("  triggers: %s\n", strings.Join(c.Triggers, ", ")))
		}
	}
	return sb.String()
}
