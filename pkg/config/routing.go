package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// Config holds the routing and dispatch configuration.
type Config struct {
	// Tiers maps each tier to its backend target.
	Tiers map[backend.Tier]TierTarget `yaml:"tiers"`

	// CapabilityTiers is the capability priority table: for each
	// capability tag, tiers in descending preference order. A subtask's
	// tier is the highest-preference entry across its tags.
	CapabilityTiers map[string][]backend.Tier `yaml:"capability_tiers,omitempty"`

	// TaskTypes drives heuristic classification: trigger phrases map a
	// query to a task type with capability tags and a complexity hint.
	TaskTypes map[string]TaskTypeConfig `yaml:"task_types,omitempty"`

	Classifier  ClassifierConfig  `yaml:"classifier,omitempty"`
	Decompose   DecomposeConfig   `yaml:"decompose,omitempty"`
	Consistency ConsistencyConfig `yaml:"consistency,omitempty"`
	Breaker     BreakerConfig     `yaml:"breaker,omitempty"`

	// RateLimits maps provider to its token bucket settings.
	RateLimits map[backend.Provider]RateLimit `yaml:"rate_limits,omitempty"`

	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// CallTimeoutMs bounds every individual backend call.
	CallTimeoutMs int `yaml:"call_timeout_ms,omitempty"`

	// RateLimitMaxWaitMs bounds the blocking wait on a drained bucket
	// before the dispatch is rejected.
	RateLimitMaxWaitMs int `yaml:"rate_limit_max_wait_ms,omitempty"`

	Pricing PricingConfig `yaml:"pricing,omitempty"`

	// API keys come from the environment or the keys file, never from
	// routing YAML.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`
	DeepSeekAPIKey  string `yaml:"-"`
	ConfigDir       string `yaml:"-"`
}

// TierTarget specifies the provider/model pair serving one tier and the
// capability tags it advertises.
type TierTarget struct {
	Provider     backend.Provider `yaml:"provider"`
	Model        string           `yaml:"model"`
	Capabilities []string         `yaml:"capabilities,omitempty"`
}

// TaskTypeConfig defines one task category.
type TaskTypeConfig struct {
	Triggers     []string `yaml:"triggers"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	Complexity   float64  `yaml:"complexity,omitempty"`
}

// ClassifierConfig defines where classification calls are routed and
// when the LLM tie-breaker refines a low-confidence heuristic match.
type ClassifierConfig struct {
	Tier                backend.Tier `yaml:"tier,omitempty"`
	CacheSize           int          `yaml:"cache_size,omitempty"`
	ConfidenceThreshold float64      `yaml:"confidence_threshold,omitempty"`
	LLMTieBreaker       *bool        `yaml:"llm_tie_breaker,omitempty"`
}

// DecomposeConfig defines when and how queries are decomposed.
type DecomposeConfig struct {
	ComplexityThreshold float64 `yaml:"complexity_threshold,omitempty"`
	MaxSubtasks         int     `yaml:"max_subtasks,omitempty"`
}

// ConsistencyConfig defines self-consistency verification behavior.
type ConsistencyConfig struct {
	Threshold   float64 `yaml:"threshold,omitempty"`
	Samples     int     `yaml:"samples,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// BreakerConfig defines circuit breaker thresholds and backoff.
type BreakerConfig struct {
	FailureThreshold  int     `yaml:"failure_threshold,omitempty"`
	SuccessThreshold  int     `yaml:"success_threshold,omitempty"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms,omitempty"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms,omitempty"`
}

// RateLimit defines one provider's token bucket.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// SchedulerConfig bounds subtask execution.
type SchedulerConfig struct {
	MaxInFlight int `yaml:"max_in_flight,omitempty"`
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// PricingConfig maps provider -> model -> pricing.
type PricingConfig map[backend.Provider]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// For returns the pricing entry for a provider/model, falling back to
// the provider's "default" entry.
func (p PricingConfig) For(provider backend.Provider, model string) (ModelPricing, bool) {
	models, ok := p[provider]
	if !ok {
		return ModelPricing{}, false
	}
	if entry, ok := models[model]; ok {
		return entry, true
	}
	if entry, ok := models["default"]; ok {
		return entry, true
	}
	return ModelPricing{}, false
}

// CallTimeout returns the per-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// RateLimitMaxWait returns the bounded bucket wait as a duration.
func (c *Config) RateLimitMaxWait() time.Duration {
	return time.Duration(c.RateLimitMaxWaitMs) * time.Millisecond
}

// LoadRoutingFile reads routing configuration from a YAML file, applies
// defaults for omitted fields, and validates the result.
func LoadRoutingFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration: four tiers spread across
// providers, with conservative thresholds.
func Default() *Config {
	cfg := &Config{
		Tiers: map[backend.Tier]TierTarget{
			backend.TierLight: {
				Provider:     backend.ProviderOpenAI,
				Model:        "gpt-5.2-instant",
				Capabilities: []string{"general", "summarize", "outline"},
			},
			backend.TierStandard: {
				Provider:     backend.ProviderAnthropic,
				Model:        "claude-sonnet-4-20250514",
				Capabilities: []string{"general", "coding", "analysis", "research"},
			},
			backend.TierHeavy: {
				Provider:     backend.ProviderAnthropic,
				Model:        "claude-opus-4-20250514",
				Capabilities: []string{"coding", "analysis", "architecture", "security"},
			},
			backend.TierUltra: {
				Provider:     backend.ProviderOpenAI,
				Model:        "gpt-5.2-pro",
				Capabilities: []string{"reasoning", "math"},
			},
		},
		CapabilityTiers: map[string][]backend.Tier{
			"general":      {backend.TierStandard, backend.TierLight},
			"summarize":    {backend.TierLight, backend.TierStandard},
			"outline":      {backend.TierLight, backend.TierStandard},
			"research":     {backend.TierStandard, backend.TierHeavy},
			"coding":       {backend.TierStandard, backend.TierHeavy},
			"analysis":     {backend.TierStandard, backend.TierHeavy},
			"architecture": {backend.TierHeavy, backend.TierUltra},
			"security":     {backend.TierHeavy, backend.TierUltra},
			"reasoning":    {backend.TierUltra, backend.TierHeavy},
			"math":         {backend.TierUltra, backend.TierHeavy},
		},
		RateLimits: map[backend.Provider]RateLimit{
			backend.ProviderAnthropic: {Rate: 5, Burst: 10},
			backend.ProviderOpenAI:    {Rate: 5, Burst: 10},
			backend.ProviderGoogle:    {Rate: 5, Burst: 10},
			backend.ProviderDeepSeek:  {Rate: 2, Burst: 4},
		},
	}

	applyDefaults(cfg)
	return cfg
}

// DefaultTaskTypes returns the built-in task type table.
func DefaultTaskTypes() map[string]TaskTypeConfig {
	return map[string]TaskTypeConfig{
		"research": {
			Triggers:     []string{"research", "find", "look up", "what is", "compare"},
			Capabilities: []string{"research"},
			Complexity:   0.4,
		},
		"summarize": {
			Triggers:     []string{"summarize", "tldr", "key points"},
			Capabilities: []string{"summarize"},
			Complexity:   0.2,
		},
		"outline": {
			Triggers:     []string{"outline", "plan", "structure", "organize"},
			Capabilities: []string{"outline"},
			Complexity:   0.3,
		},
		"implement": {
			Triggers:     []string{"implement", "code", "write a function", "build", "create"},
			Capabilities: []string{"coding"},
			Complexity:   0.6,
		},
		"debug": {
			Triggers:     []string{"debug", "fix", "error", "bug", "failing"},
			Capabilities: []string{"coding", "analysis"},
			Complexity:   0.5,
		},
		"review": {
			Triggers:     []string{"review", "check", "audit", "evaluate"},
			Capabilities: []string{"analysis"},
			Complexity:   0.4,
		},
		"math": {
			Triggers:     []string{"calculate", "equation", "formula", "proof", "derive"},
			Capabilities: []string{"math", "reasoning"},
			Complexity:   0.7,
		},
		"architecture": {
			Triggers:     []string{"architect", "system design", "design review", "architecture"},
			Capabilities: []string{"architecture", "analysis"},
			Complexity:   0.8,
		},
		"security_review": {
			Triggers:     []string{"security", "vulnerability", "audit security", "penetration", "exploit"},
			Capabilities: []string{"security", "analysis"},
			Complexity:   0.7,
		},
		"reasoning": {
			Triggers:     []string{"reason", "think through", "step by step", "logical", "deduce", "infer"},
			Capabilities: []string{"reasoning"},
			Complexity:   0.7,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.TaskTypes == nil {
		cfg.TaskTypes = DefaultTaskTypes()
	}
	if cfg.Classifier.Tier == "" {
		cfg.Classifier.Tier = backend.TierLight
	}
	if cfg.Classifier.CacheSize == 0 {
		cfg.Classifier.CacheSize = 256
	}
	if cfg.Classifier.ConfidenceThreshold == 0 {
		cfg.Classifier.ConfidenceThreshold = 0.65
	}
	if cfg.Classifier.LLMTieBreaker == nil {
		enabled := true
		cfg.Classifier.LLMTieBreaker = &enabled
	}
	if cfg.Decompose.ComplexityThreshold == 0 {
		cfg.Decompose.ComplexityThreshold = 0.5
	}
	if cfg.Decompose.MaxSubtasks == 0 {
		cfg.Decompose.MaxSubtasks = 8
	}
	if cfg.Consistency.Threshold == 0 {
		cfg.Consistency.Threshold = 0.6
	}
	if cfg.Consistency.Samples == 0 {
		cfg.Consistency.Samples = 5
	}
	if cfg.Consistency.Temperature == 0 {
		cfg.Consistency.Temperature = 0.7
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 1
	}
	if cfg.Breaker.InitialBackoffMs == 0 {
		cfg.Breaker.InitialBackoffMs = 5000
	}
	if cfg.Breaker.BackoffMultiplier == 0 {
		cfg.Breaker.BackoffMultiplier = 2
	}
	if cfg.Breaker.MaxBackoffMs == 0 {
		cfg.Breaker.MaxBackoffMs = 120000
	}
	if cfg.Breaker.MaxBackoffMs < cfg.Breaker.InitialBackoffMs {
		cfg.Breaker.MaxBackoffMs = cfg.Breaker.InitialBackoffMs
	}
	if cfg.Scheduler.MaxInFlight == 0 {
		cfg.Scheduler.MaxInFlight = 4
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 3
	}
	if cfg.CallTimeoutMs == 0 {
		cfg.CallTimeoutMs = 60000
	}
	if cfg.RateLimitMaxWaitMs == 0 {
		cfg.RateLimitMaxWaitMs = 2000
	}
}

// Validate checks structural integrity of the configuration.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("no tiers configured")
	}
	for tier, target := range c.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("unknown tier %q", tier)
		}
		if !target.Provider.Valid() {
			return fmt.Errorf("tier %s: unknown provider %q", tier, target.Provider)
		}
		if target.Model == "" {
			return fmt.Errorf("tier %s: model is required", tier)
		}
	}
	for capability, tiers := range c.CapabilityTiers {
		if len(tiers) == 0 {
			return fmt.Errorf("capability %s: empty tier list", capability)
		}
		for _, tier := range tiers {
			if !tier.Valid() {
				return fmt.Errorf("capability %s: unknown tier %q", capability, tier)
			}
		}
	}
	for name, tt := range c.TaskTypes {
		if len(tt.Triggers) == 0 {
			return fmt.Errorf("task type %s: at least one trigger is required", name)
		}
		if tt.Complexity < 0 || tt.Complexity > 1 {
			return fmt.Errorf("task type %s: complexity %v out of [0,1]", name, tt.Complexity)
		}
	}
	if !c.Classifier.Tier.Valid() {
		return fmt.Errorf("classifier: unknown tier %q", c.Classifier.Tier)
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("classifier: confidence_threshold %v out of [0,1]", c.Classifier.ConfidenceThreshold)
	}
	if c.Decompose.ComplexityThreshold < 0 || c.Decompose.ComplexityThreshold > 1 {
		return fmt.Errorf("decompose: complexity_threshold %v out of [0,1]", c.Decompose.ComplexityThreshold)
	}
	if c.Consistency.Threshold < 0 || c.Consistency.Threshold > 1 {
		return fmt.Errorf("consistency: threshold %v out of [0,1]", c.Consistency.Threshold)
	}
	if c.Consistency.Samples < 1 {
		return fmt.Errorf("consistency: samples must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker: failure_threshold must be positive")
	}
	if c.Breaker.BackoffMultiplier < 1 {
		return fmt.Errorf("breaker: backoff_multiplier must be >= 1")
	}
	for provider, rl := range c.RateLimits {
		if !provider.Valid() {
			return fmt.Errorf("rate_limits: unknown provider %q", provider)
		}
		if rl.Rate <= 0 || rl.Burst < 1 {
			return fmt.Errorf("rate_limits: %s: rate and burst must be positive", provider)
		}
	}
	if c.Scheduler.MaxInFlight < 1 {
		return fmt.Errorf("scheduler: max_in_flight must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler: max_attempts must be positive")
	}
	return nil
}
