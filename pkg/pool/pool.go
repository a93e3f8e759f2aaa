// Package pool manages the tiered backend pool and the guarded dispatch
// path: tier resolution, fallback, circuit breaking, rate limiting, and
// per-call tracing.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/metrics"
	"github.com/zen-systems/tiergate/pkg/ratelimit"
	"github.com/zen-systems/tiergate/pkg/resilience"
)

// ErrNoBackends indicates an empty pool.
var ErrNoBackends = errors.New("no backends registered")

// Descriptor binds a tier to its backend and model.
type Descriptor struct {
	Tier    backend.Tier
	Backend backend.Backend
	Model   string
}

// Pool holds one backend per tier. Registration happens at startup;
// lookups afterwards are read-mostly.
type Pool struct {
	mu      sync.RWMutex
	targets map[backend.Tier]*Descriptor
	order   []backend.Tier

	capabilityTiers map[string][]backend.Tier
	breakers        *resilience.Registry
	buckets         *ratelimit.Registry
	pricing         config.PricingConfig
	callTimeout     time.Duration
	rateMaxWait     time.Duration
	metrics         *metrics.Metrics
}

// New creates a pool wired with the config's breaker, rate limit, and
// pricing settings. A nil metrics instance disables instrumentation.
func New(cfg *config.Config, m *metrics.Metrics) *Pool {
	breakerCfg := resilience.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		InitialBackoff:    time.Duration(cfg.Breaker.InitialBackoffMs) * time.Millisecond,
		BackoffMultiplier: cfg.Breaker.BackoffMultiplier,
		MaxBackoff:        time.Duration(cfg.Breaker.MaxBackoffMs) * time.Millisecond,
		OnStateChange: func(name string, _, to resilience.State) {
			m.IncBreakerTransition(name, to.String())
		},
	}

	limits := ratelimit.DefaultLimits()
	for provider, rl := range cfg.RateLimits {
		limits[provider] = ratelimit.Limits{Rate: rl.Rate, Burst: rl.Burst}
	}

	return &Pool{
		targets:         make(map[backend.Tier]*Descriptor),
		capabilityTiers: cfg.CapabilityTiers,
		breakers:        resilience.NewRegistry(breakerCfg),
		buckets:         ratelimit.NewRegistry(limits),
		pricing:         cfg.Pricing,
		callTimeout:     cfg.CallTimeout(),
		rateMaxWait:     cfg.RateLimitMaxWait(),
		metrics:         m,
	}
}

// Register binds a backend to a tier. Each tier is registered at most
// once.
func (p *Pool) Register(tier backend.Tier, b backend.Backend, model string) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", tier)
	}
	if b == nil {
		return fmt.Errorf("tier %s: backend is required", tier)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.targets[tier]; exists {
		return fmt.Errorf("tier %s already registered", tier)
	}
	p.targets[tier] = &Descriptor{Tier: tier, Backend: b, Model: model}
	p.order = append(p.order, tier)
	return nil
}

// Get returns the descriptor serving a tier. When the requested tier is
// not registered it falls back to standard, then to the first-registered
// tier. An empty pool returns ErrNoBackends.
func (p *Pool) Get(tier backend.Tier) (*Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if d, ok := p.targets[tier]; ok {
		return d, nil
	}
	if d, ok := p.targets[backend.TierStandard]; ok {
		return d, nil
	}
	if len(p.order) > 0 {
		return p.targets[p.order[0]], nil
	}
	return nil, ErrNoBackends
}

// Has reports whether a tier is registered.
func (p *Pool) Has(tier backend.Tier) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.targets[tier]
	return ok
}

// Tiers returns registered tiers in registration order.
func (p *Pool) Tiers() []backend.Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]backend.Tier, len(p.order))
	copy(out, p.order)
	return out
}

// ResolveTier maps capability tags to a tier via the configured priority
// table. For each tag the first registered tier in its priority list is
// the candidate; the highest-ranked candidate wins. Unknown tags and an
// empty tag list resolve to standard.
func (p *Pool) ResolveTier(capabilities []string) backend.Tier {
	best := backend.TierStandard
	found := false

	for _, capability := range capabilities {
		for _, tier := range p.capabilityTiers[capability] {
			if !p.Has(tier) {
				continue
			}
			if !found || tier.Rank() > best.Rank() {
				best = tier
				found = true
			}
			break
		}
	}
	return best
}

// FallbackChain returns the tiers to try for a request, best first: the
// requested tier, then standard, then the remaining registered tiers by
// descending rank.
func (p *Pool) FallbackChain(tier backend.Tier) []backend.Tier {
	chain := []backend.Tier{tier}
	seen := map[backend.Tier]bool{tier: true}

	add := func(t backend.Tier) {
		if !seen[t] && p.Has(t) {
			chain = append(chain, t)
			seen[t] = true
		}
	}

	add(backend.TierStandard)
	for _, t := range []backend.Tier{backend.TierUltra, backend.TierHeavy, backend.TierStandard, backend.TierLight} {
		add(t)
	}
	return chain
}

// BreakerSnapshots returns bookkeeping for every breaker the pool has
// touched.
func (p *Pool) BreakerSnapshots() []resilience.Snapshot {
	return p.breakers.Snapshots()
}

// Ping checks reachability of the backend serving a tier.
func (p *Pool) Ping(ctx context.Context, tier backend.Tier) error {
	desc, err := p.Get(tier)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return desc.Backend.Ping(ctx)
}

func breakerName(d *Descriptor) string {
	return fmt.Sprintf("%s/%s", d.Backend.Provider(), d.Model)
}
