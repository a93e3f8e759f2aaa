package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/trace"
)

func testVerifier(t *testing.T, mock *backend.MockBackend, samples int) *Verifier {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimits[backend.ProviderMock] = config.RateLimit{Rate: 1000, Burst: 1000}
	cfg.Consistency.Samples = samples
	p := pool.New(cfg, nil)
	require.NoError(t, p.Register(backend.TierStandard, mock, "mock-std"))
	return NewVerifier(p, cfg)
}

func TestVerify_ConfidentMajority(t *testing.T) {
	mock := backend.NewMockBackend().Script("Paris", "Paris", "London", "Paris", "Paris")
	v := testVerifier(t, mock, 5)

	tr := trace.New()
	verdict, err := v.Verify(context.Background(), "capital of france?", backend.TierStandard, tr, "st-1")
	require.NoError(t, err)

	assert.Equal(t, "Paris", verdict.Answer)
	assert.Equal(t, 0.8, verdict.ConsistencyScore)
	assert.True(t, verdict.IsConfident)
	assert.False(t, verdict.NeedsToolVerification)
	assert.Len(t, verdict.Responses, 5)
	assert.Equal(t, backend.TierStandard, verdict.Tier)
	assert.Equal(t, 1, tr.Len(), "batch sampling is one guarded dispatch")
}

func TestVerify_LowAgreementNeedsTools(t *testing.T) {
	mock := backend.NewMockBackend().Script("Paris", "London", "Berlin", "Madrid", "Paris")
	v := testVerifier(t, mock, 5)

	verdict, err := v.Verify(context.Background(), "capital?", backend.TierStandard, nil, "")
	require.NoError(t, err)

	assert.Equal(t, 0.4, verdict.ConsistencyScore)
	assert.False(t, verdict.IsConfident)
	assert.True(t, verdict.NeedsToolVerification)
}

func TestVerify_SamplingFailure(t *testing.T) {
	mock := backend.NewMockBackend().FailWith(func(int, string) error {
		return assert.AnError
	})
	v := testVerifier(t, mock, 3)

	_, err := v.Verify(context.Background(), "q", backend.TierStandard, nil, "")
	assert.Error(t, err)
}
