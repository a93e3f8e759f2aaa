package backend

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// batchConcurrency caps the fan-out used when a provider has no native
// batch endpoint and samples are served as concurrent single generations.
const batchConcurrency = 4

// fanoutBatch serves a batch request as NumSamples concurrent Generate
// calls against the given backend. Sample order is preserved.
func fanoutBatch(ctx context.Context, b Backend, model string, req BatchRequest) (*BatchResult, error) {
	if req.NumSamples <= 0 {
		return nil, fmt.Errorf("batch requires at least one sample, got %d", req.NumSamples)
	}

	responses := make([]string, req.NumSamples)
	var mu sync.Mutex
	var usage Usage

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i := 0; i < req.NumSamples; i++ {
		g.Go(func() error {
			gen, err := b.Generate(gctx, model, GenerateRequest{
				Prompt:      req.Prompt,
				MaxTokens:   req.MaxTokens,
				Temperature: req.Temperature,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			responses[i] = gen.Text
			usage = usage.Add(gen.Usage)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	majority, count := rawMajority(responses)
	return &BatchResult{
		Responses:      responses,
		MajorityAnswer: majority,
		MajorityCount:  count,
		Provider:       b.Provider(),
		Model:          model,
		Usage:          usage,
	}, nil
}
