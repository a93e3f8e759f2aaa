package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/tiergate/pkg/backend"
)

func TestLoad_EnvKeysTakePrecedence(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	writeKeysFile(t, home, "api_keys:\n  anthropic: file-ant\n  openai: file-openai\n")

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-ant", cfg.AnthropicAPIKey)
	assert.Equal(t, "file-openai", cfg.OpenAIAPIKey, "file key used when env unset")
	assert.Empty(t, cfg.GoogleAPIKey)
}

func TestLoad_DefaultsWithoutRoutingFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DEEPSEEK_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Tiers, 4)
	assert.Equal(t, backend.TierLight, cfg.Classifier.Tier)
}

func TestLoadRoutingFile_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	data := `tiers:
  standard:
    provider: mock
    model: test-model
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadRoutingFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Decompose.ComplexityThreshold)
	assert.Equal(t, 0.6, cfg.Consistency.Threshold)
	assert.Equal(t, 5, cfg.Consistency.Samples)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 4, cfg.Scheduler.MaxInFlight)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
}

func TestLoadRoutingFile_RejectsUnknownTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	data := `tiers:
  gigantic:
    provider: mock
    model: test-model
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	_, err := LoadRoutingFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no tiers", func(c *Config) { c.Tiers = nil }, "no tiers"},
		{"missing model", func(c *Config) {
			c.Tiers[backend.TierLight] = TierTarget{Provider: backend.ProviderMock}
		}, "model is required"},
		{"bad provider", func(c *Config) {
			c.Tiers[backend.TierLight] = TierTarget{Provider: "acme", Model: "m"}
		}, "unknown provider"},
		{"empty capability list", func(c *Config) {
			c.CapabilityTiers["coding"] = nil
		}, "empty tier list"},
		{"threshold out of range", func(c *Config) { c.Consistency.Threshold = 1.5 }, "out of [0,1]"},
		{"zero rate", func(c *Config) {
			c.RateLimits[backend.ProviderOpenAI] = RateLimit{Rate: 0, Burst: 1}
		}, "must be positive"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestPricing_ForFallsBackToDefaultEntry(t *testing.T) {
	pricing := PricingConfig{
		backend.ProviderOpenAI: {
			"gpt-5.2-pro": {PromptPer1K: 10, CompletionPer1K: 30},
			"default":     {PromptPer1K: 1, CompletionPer1K: 2},
		},
	}

	exact, ok := pricing.For(backend.ProviderOpenAI, "gpt-5.2-pro")
	require.True(t, ok)
	assert.Equal(t, 10.0, exact.PromptPer1K)

	fallback, ok := pricing.For(backend.ProviderOpenAI, "gpt-5.2-instant")
	require.True(t, ok)
	assert.Equal(t, 1.0, fallback.PromptPer1K)

	_, ok = pricing.For(backend.ProviderGoogle, "gemini-2.0-pro")
	assert.False(t, ok)
}

func writeKeysFile(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".tiergate")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
