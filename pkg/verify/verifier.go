package verify

import (
	"context"
	"fmt"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/trace"
)

// Verification is the full verdict for one verified prompt.
type Verification struct {
	Answer                string       `json:"answer"`
	ConsistencyScore      float64      `json:"consistency_score"`
	IsConfident           bool         `json:"is_confident"`
	Responses             []string     `json:"responses"`
	NeedsToolVerification bool         `json:"needs_tool_verification"`
	Tier                  backend.Tier `json:"tier"`
}

// Verifier resamples a prompt through the pool's batch operation and
// scores the agreement.
type Verifier struct {
	pool *pool.Pool
	cfg  *config.Config
}

// NewVerifier creates a verifier over the pool and config.
func NewVerifier(p *pool.Pool, cfg *config.Config) *Verifier {
	return &Verifier{pool: p, cfg: cfg}
}

// Verify samples the prompt the configured number of times at the given
// tier and computes self-consistency over the samples.
func (v *Verifier) Verify(ctx context.Context, prompt string, tier backend.Tier, tr *trace.Trace, subtaskID string) (*Verification, error) {
	samples := v.cfg.Consistency.Samples
	result, served, err := v.pool.GenerateBatch(ctx, tier, backend.BatchRequest{
		Prompt:      prompt,
		NumSamples:  samples,
		Temperature: v.cfg.Consistency.Temperature,
	}, tr, subtaskID)
	if err != nil {
		return nil, fmt.Errorf("verification sampling: %w", err)
	}
	if len(result.Responses) == 0 {
		return nil, fmt.Errorf("verification sampling returned no responses")
	}

	consistency := ComputeSelfConsistency(result.Responses, v.cfg.Consistency.Threshold)
	return &Verification{
		Answer:                consistency.MajorityAnswer,
		ConsistencyScore:      consistency.PHat,
		IsConfident:           consistency.IsConfident,
		Responses:             consistency.Responses,
		NeedsToolVerification: ShouldUseToolVerification(consistency.PHat, v.cfg.Consistency.Threshold),
		Tier:                  served,
	}, nil
}
