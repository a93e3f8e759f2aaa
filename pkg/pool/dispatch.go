package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/ratelimit"
	"github.com/zen-systems/tiergate/pkg/trace"
)

// Generate dispatches a single generation through the guarded path. It
// returns the generation, the tier that actually served it, and an
// error. Rejections surface as resilience.ErrCircuitOpen or
// *ratelimit.RateLimitError so callers can branch on them.
func (p *Pool) Generate(ctx context.Context, tier backend.Tier, req backend.GenerateRequest, tr *trace.Trace, subtaskID string) (*backend.Generation, backend.Tier, error) {
	desc, err := p.Get(tier)
	if err != nil {
		return nil, "", err
	}

	var gen *backend.Generation
	err = p.guard(ctx, tier, desc, tr, subtaskID, func(callCtx context.Context) (backend.Usage, error) {
		var callErr error
		gen, callErr = desc.Backend.Generate(callCtx, desc.Model, req)
		if gen != nil {
			return gen.Usage, callErr
		}
		return backend.Usage{}, callErr
	})
	if err != nil {
		return nil, desc.Tier, err
	}
	return gen, desc.Tier, nil
}

// GenerateBatch dispatches a multi-sample generation through the guarded
// path. The whole batch consumes one admission token and one breaker
// outcome.
func (p *Pool) GenerateBatch(ctx context.Context, tier backend.Tier, req backend.BatchRequest, tr *trace.Trace, subtaskID string) (*backend.BatchResult, backend.Tier, error) {
	desc, err := p.Get(tier)
	if err != nil {
		return nil, "", err
	}

	var result *backend.BatchResult
	err = p.guard(ctx, tier, desc, tr, subtaskID, func(callCtx context.Context) (backend.Usage, error) {
		var callErr error
		result, callErr = desc.Backend.GenerateBatch(callCtx, desc.Model, req)
		if result != nil {
			return result.Usage, callErr
		}
		return backend.Usage{}, callErr
	})
	if err != nil {
		return nil, desc.Tier, err
	}
	return result, desc.Tier, nil
}

// guard runs one backend call under the breaker and bucket for the
// descriptor's backend, recording a trace entry for whatever happens.
func (p *Pool) guard(ctx context.Context, requested backend.Tier, desc *Descriptor, tr *trace.Trace, subtaskID string, call func(context.Context) (backend.Usage, error)) error {
	provider := desc.Backend.Provider()
	entry := trace.Entry{
		SubtaskID:     subtaskID,
		RequestedTier: requested,
		ServedTier:    desc.Tier,
		Provider:      provider,
		Model:         desc.Model,
	}

	br := p.breakers.Get(breakerName(desc))
	if err := br.Allow(); err != nil {
		entry.Outcome = trace.OutcomeCircuitOpen
		entry.Error = err.Error()
		p.record(tr, entry, 0)
		return fmt.Errorf("backend %s: %w", breakerName(desc), err)
	}

	bucket := p.buckets.Get(provider)
	if err := bucket.AcquireOrWait(ctx, 1, p.rateMaxWait); err != nil {
		br.Release()
		// Context cancellation surfaces here too; only a drained bucket
		// counts as a rate limit rejection.
		var rateErr *ratelimit.RateLimitError
		if errors.As(err, &rateErr) {
			entry.Outcome = trace.OutcomeRateLimited
			p.metrics.IncRateLimitRejection(provider)
		} else {
			entry.Outcome = trace.OutcomeFailure
		}
		entry.Error = err.Error()
		p.record(tr, entry, 0)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	start := time.Now()
	usage, err := call(callCtx)
	elapsed := time.Since(start)

	br.Mark(err)

	if err != nil {
		entry.Outcome = trace.OutcomeFailure
		entry.Error = err.Error()
		p.record(tr, entry, elapsed)
		return err
	}

	entry.Outcome = trace.OutcomeSuccess
	if desc.Tier != requested {
		entry.Outcome = trace.OutcomeFallback
	}
	entry.PromptTokens = usage.PromptTokens
	entry.OutputTokens = usage.CompletionTokens
	entry.CostUSD = p.estimateCost(provider, desc.Model, usage)
	p.record(tr, entry, elapsed)
	return nil
}

func (p *Pool) record(tr *trace.Trace, entry trace.Entry, elapsed time.Duration) {
	entry.DurationMs = elapsed.Milliseconds()
	if tr != nil {
		tr.Append(entry)
	}
	p.metrics.ObserveDispatch(entry.Provider, entry.ServedTier, entry.Outcome, elapsed)
}

// estimateCost prices a call from the configured per-1k token table.
// Unpriced models cost zero.
func (p *Pool) estimateCost(provider backend.Provider, model string, usage backend.Usage) float64 {
	pricing, ok := p.pricing.For(provider, model)
	if !ok {
		return 0
	}
	promptCost := (float64(usage.PromptTokens) / 1000.0) * pricing.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * pricing.CompletionPer1K
	return promptCost + completionCost
}
