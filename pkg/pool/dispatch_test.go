package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/ratelimit"
	"github.com/zen-systems/tiergate/pkg/resilience"
	"github.com/zen-systems/tiergate/pkg/trace"
)

func TestGenerate_RecordsSuccessEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Pricing = config.PricingConfig{
		backend.ProviderMock: {"mock-model": {PromptPer1K: 1, CompletionPer1K: 2}},
	}
	p := New(cfg, nil)
	mock := backend.NewMockBackend().Script("hello there")
	require.NoError(t, p.Register(backend.TierStandard, mock, "mock-model"))

	tr := trace.New()
	gen, served, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "say hello", MaxTokens: 64}, tr, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", gen.Text)
	assert.Equal(t, backend.TierStandard, served)

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, trace.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "st-1", entries[0].SubtaskID)
	assert.Equal(t, backend.ProviderMock, entries[0].Provider)
	assert.Greater(t, entries[0].CostUSD, 0.0, "priced model records a cost estimate")
}

func TestGenerate_FallbackOutcomeWhenTierUnregistered(t *testing.T) {
	p := New(testConfig(), nil)
	require.NoError(t, p.Register(backend.TierStandard, backend.NewMockBackend(), "std"))

	tr := trace.New()
	_, served, err := p.Generate(context.Background(), backend.TierUltra,
		backend.GenerateRequest{Prompt: "hard question"}, tr, "")
	require.NoError(t, err)
	assert.Equal(t, backend.TierStandard, served)

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, trace.OutcomeFallback, entries[0].Outcome)
	assert.Equal(t, backend.TierUltra, entries[0].RequestedTier)
	assert.Equal(t, backend.TierStandard, entries[0].ServedTier)
}

func TestGenerate_BreakerOpensAndRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.InitialBackoffMs = 60000
	p := New(cfg, nil)
	mock := backend.NewMockBackend().FailWith(func(int, string) error { return errBackendDown })
	require.NoError(t, p.Register(backend.TierStandard, mock, "std"))

	tr := trace.New()
	for i := 0; i < 2; i++ {
		_, _, err := p.Generate(context.Background(), backend.TierStandard,
			backend.GenerateRequest{Prompt: "q"}, tr, "")
		require.ErrorIs(t, err, errBackendDown)
	}

	// Third call is rejected without reaching the backend.
	_, _, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, tr, "")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, mock.CallCount())

	counts := tr.CountByOutcome()
	assert.Equal(t, 2, counts[trace.OutcomeFailure])
	assert.Equal(t, 1, counts[trace.OutcomeCircuitOpen])
}

func TestGenerate_RateLimitRejectionIsData(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits[backend.ProviderMock] = config.RateLimit{Rate: 0.001, Burst: 1}
	cfg.RateLimitMaxWaitMs = 1
	p := New(cfg, nil)
	require.NoError(t, p.Register(backend.TierStandard, backend.NewMockBackend(), "std"))

	tr := trace.New()
	_, _, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, tr, "")
	require.NoError(t, err)

	_, _, err = p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, tr, "")
	var rlErr *ratelimit.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Greater(t, rlErr.RetryAfter.Milliseconds(), int64(0))

	counts := tr.CountByOutcome()
	assert.Equal(t, 1, counts[trace.OutcomeSuccess])
	assert.Equal(t, 1, counts[trace.OutcomeRateLimited])
}

func TestGenerate_CanceledWaitIsNotRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits[backend.ProviderMock] = config.RateLimit{Rate: 1, Burst: 1}
	cfg.RateLimitMaxWaitMs = 5000
	p := New(cfg, nil)
	require.NoError(t, p.Register(backend.TierStandard, backend.NewMockBackend(), "std"))

	// Drain the burst token, then cancel before the refill wait finishes.
	_, _, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := trace.New()
	_, _, err = p.Generate(ctx, backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, tr, "")
	require.ErrorIs(t, err, context.Canceled)

	var rlErr *ratelimit.RateLimitError
	assert.False(t, errors.As(err, &rlErr), "cancellation is not a rate limit rejection")

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, trace.OutcomeFailure, entries[0].Outcome)
}

func TestGenerate_RateLimitDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	cfg.RateLimits[backend.ProviderMock] = config.RateLimit{Rate: 0.001, Burst: 1}
	cfg.RateLimitMaxWaitMs = 1
	p := New(cfg, nil)
	require.NoError(t, p.Register(backend.TierStandard, backend.NewMockBackend(), "std"))

	_, _, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, nil, "")
	require.NoError(t, err)
	_, _, err = p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, nil, "")
	require.Error(t, err)

	for _, snap := range p.BreakerSnapshots() {
		assert.Equal(t, resilience.StateClosed, snap.State)
	}
}

func TestGenerateBatch_GuardedOnce(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, nil)
	mock := backend.NewMockBackend().Script("paris", "paris", "london")
	require.NoError(t, p.Register(backend.TierStandard, mock, "std"))

	tr := trace.New()
	result, served, err := p.GenerateBatch(context.Background(), backend.TierStandard,
		backend.BatchRequest{Prompt: "capital of france", NumSamples: 3}, tr, "st-2")
	require.NoError(t, err)
	assert.Equal(t, backend.TierStandard, served)
	assert.Equal(t, "paris", result.MajorityAnswer)
	assert.Equal(t, 2, result.MajorityCount)

	// One trace entry for the whole batch.
	assert.Equal(t, 1, tr.Len())
}

func TestGenerate_EmptyPool(t *testing.T) {
	p := New(testConfig(), nil)
	_, _, err := p.Generate(context.Background(), backend.TierStandard,
		backend.GenerateRequest{Prompt: "q"}, nil, "")
	assert.ErrorIs(t, err, ErrNoBackends)
}
