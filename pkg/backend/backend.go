package backend

import "context"

// Tier is a named class of inference backend, trading capability for
// cost and latency.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierHeavy    Tier = "heavy"
	TierUltra    Tier = "ultra"
)

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierLight, TierStandard, TierHeavy, TierUltra:
		return true
	default:
		return false
	}
}

// Rank orders tiers by capability, lowest first. Unknown tiers rank below
// every known tier.
func (t Tier) Rank() int {
	switch t {
	case TierLight:
		return 1
	case TierStandard:
		return 2
	case TierHeavy:
		return 3
	case TierUltra:
		return 4
	default:
		return 0
	}
}

// Provider identifies a backend implementation.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderMock      Provider = "mock"
)

// Valid reports whether the provider is a known value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderDeepSeek, ProviderMock:
		return true
	default:
		return false
	}
}

// Backend is the generic contract the routing core requires of an
// inference backend. Implementations must be safe for concurrent use.
type Backend interface {
	// Generate sends a single prompt to the model and returns the response.
	Generate(ctx context.Context, model string, req GenerateRequest) (*Generation, error)

	// GenerateBatch requests N independent samples for the same prompt.
	GenerateBatch(ctx context.Context, model string, req BatchRequest) (*BatchResult, error)

	// Ping reports backend liveness. Used only at pool-population time.
	Ping(ctx context.Context) error

	// Provider returns the backend's provider identity.
	Provider() Provider

	// Models returns the list of supported models.
	Models() []string
}
