// Package ratelimit provides per-provider admission control for backend
// dispatch.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// Limits configures one provider's token bucket.
type Limits struct {
	// Rate is the sustained refill rate in tokens per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// RateLimitError reports a rejected acquire together with the wait that
// would have been needed. Callers handle it as data, never as a crash.
type RateLimitError struct {
	Provider   backend.Provider
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited for provider %s, retry after %s", e.Provider, e.RetryAfter)
}

// Bucket is a token bucket for one provider. Refill happens lazily from
// elapsed wall-clock time inside the limiter; buckets for different
// providers never block each other.
type Bucket struct {
	provider backend.Provider
	limiter  *rate.Limiter

	now func() time.Time
}

// NewBucket creates a bucket with the given limits.
func NewBucket(provider backend.Provider, limits Limits) *Bucket {
	if limits.Rate <= 0 {
		limits.Rate = 1
	}
	if limits.Burst < 1 {
		limits.Burst = 1
	}
	return &Bucket{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst),
		now:      time.Now,
	}
}

// Acquire takes n tokens without blocking. On rejection it returns a
// *RateLimitError carrying the computed retry-after.
func (b *Bucket) Acquire(n int) error {
	if b.limiter.AllowN(b.now(), n) {
		return nil
	}
	return &RateLimitError{Provider: b.provider, RetryAfter: b.retryAfter(n)}
}

// AcquireOrWait blocks until n tokens are available, up to maxWait. The
// context bounds the wait as well.
func (b *Bucket) AcquireOrWait(ctx context.Context, n int, maxWait time.Duration) error {
	wait := b.retryAfter(n)
	if wait > maxWait {
		return &RateLimitError{Provider: b.provider, RetryAfter: wait}
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	if err := b.limiter.WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RateLimitError{Provider: b.provider, RetryAfter: b.retryAfter(n)}
	}
	return nil
}

// RetryAfter reports the wait needed for n tokens without acquiring them.
func (b *Bucket) RetryAfter(n int) time.Duration {
	return b.retryAfter(n)
}

// Tokens reports the current token balance.
func (b *Bucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

func (b *Bucket) retryAfter(n int) time.Duration {
	res := b.limiter.ReserveN(b.now(), n)
	if !res.OK() {
		// n exceeds burst; no wait will ever satisfy it.
		return rate.InfDuration
	}
	delay := res.DelayFrom(b.now())
	res.CancelAt(b.now())
	return delay
}

// Registry maps provider name to bucket, lazily creating buckets with
// provider-specific defaults so callers never pre-register providers.
type Registry struct {
	mu       sync.Mutex
	buckets  map[backend.Provider]*Bucket
	defaults map[backend.Provider]Limits
	fallback Limits
}

// DefaultLimits returns the per-provider defaults: generous for local
// mock serving, conservative for remote paid APIs.
func DefaultLimits() map[backend.Provider]Limits {
	return map[backend.Provider]Limits{
		backend.ProviderMock:      {Rate: 1000, Burst: 1000},
		backend.ProviderAnthropic: {Rate: 5, Burst: 10},
		backend.ProviderOpenAI:    {Rate: 5, Burst: 10},
		backend.ProviderGoogle:    {Rate: 5, Burst: 10},
		backend.ProviderDeepSeek:  {Rate: 2, Burst: 4},
	}
}

// NewRegistry creates a registry with the given per-provider defaults.
// Providers absent from defaults get the fallback limits.
func NewRegistry(defaults map[backend.Provider]Limits) *Registry {
	if defaults == nil {
		defaults = DefaultLimits()
	}
	return &Registry{
		buckets:  make(map[backend.Provider]*Bucket),
		defaults: defaults,
		fallback: Limits{Rate: 2, Burst: 4},
	}
}

// Get returns the bucket for a provider, creating it on first use.
func (r *Registry) Get(provider backend.Provider) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[provider]; ok {
		return b
	}
	limits, ok := r.defaults[provider]
	if !ok {
		limits = r.fallback
	}
	b := NewBucket(provider, limits)
	r.buckets[provider] = b
	return b
}
