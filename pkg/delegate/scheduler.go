// Package delegate drives a query end to end: classification, optional
// decomposition, dependency-ordered execution over the backend pool, and
// self-consistency verification of the synthesized answer.
package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/metrics"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/task"
	"github.com/zen-systems/tiergate/pkg/trace"
	"github.com/zen-systems/tiergate/pkg/verify"
)

// Scheduler executes a decomposition over the pool. Ready subtasks run
// concurrently up to the configured bound; a subtask is dispatched as
// soon as its last dependency completes, and a failed dependency fails
// its dependents without a dispatch.
type Scheduler struct {
	pool     *pool.Pool
	cfg      *config.Config
	metrics  *metrics.Metrics
	verifier *verify.Verifier

	// Logf receives scheduling diagnostics. Nil disables logging.
	Logf func(format string, args ...any)
}

// NewScheduler creates a scheduler over the pool and config.
func NewScheduler(p *pool.Pool, cfg *config.Config, m *metrics.Metrics) *Scheduler {
	return &Scheduler{pool: p, cfg: cfg, metrics: m, verifier: verify.NewVerifier(p, cfg)}
}

// dispatchOutcome carries one subtask's result back to the scheduling
// loop, which owns all subtask mutation.
type dispatchOutcome struct {
	st         *task.SubTask
	text       string
	tierUsed   backend.Tier
	attempts   int
	confidence float64
	scored     bool
	err        error
}

// Execute runs every subtask to a terminal state. The dependency graph
// is validated before any backend call, so a cyclic decomposition
// dispatches nothing. Each completion re-evaluates the ready set, so a
// dependent never waits on unrelated slow subtasks. Per-subtask
// outcomes land on the subtasks themselves; the returned error covers
// structural problems and context cancellation only.
func (s *Scheduler) Execute(ctx context.Context, decomp *task.Decomposition, tr *trace.Trace) error {
	g, err := task.NewGraph(decomp.SubTasks)
	if err != nil {
		return err
	}

	limit := s.cfg.Scheduler.MaxInFlight
	if limit < 1 {
		limit = 1
	}

	// A lone subtask is scored by the final verification pass instead;
	// intermediate results are resampled only when they feed others.
	resample := len(decomp.SubTasks) > 1 && s.cfg.Consistency.Samples > 1

	done := make(chan dispatchOutcome)
	inFlight := 0

	for {
		canceled := ctx.Err() != nil

		poisoned := failPoisoned(g, decomp.SubTasks)
		for _, st := range poisoned {
			s.logf("subtask %s failed without dispatch: %s", st.ID, st.Error)
		}

		if !canceled {
			for _, st := range g.Ready() {
				if inFlight >= limit {
					break
				}
				st.Status = task.StatusRunning
				inFlight++
				go func() {
					done <- s.dispatch(ctx, g, st, tr, resample)
				}()
			}
		}

		if inFlight > 0 {
			out := <-done
			inFlight--
			s.apply(out)
			continue
		}

		if canceled {
			failRemaining(decomp.SubTasks, ctx.Err())
			return ctx.Err()
		}
		if g.Done() {
			return nil
		}
		if len(poisoned) > 0 {
			continue
		}
		return fmt.Errorf("scheduler stalled: no runnable subtasks remain")
	}
}

// apply lands a dispatch outcome on its subtask. Runs only on the
// scheduling goroutine, so graph reads never race subtask writes.
func (s *Scheduler) apply(out dispatchOutcome) {
	st := out.st
	st.AttemptCount = out.attempts
	if out.err != nil {
		st.Status = task.StatusFailed
		st.Error = out.err.Error()
		return
	}
	st.Result = out.text
	st.TierUsed = out.tierUsed
	if out.scored {
		st.Confidence = out.confidence
	}
	st.Status = task.StatusCompleted
}

// dispatch runs one subtask: guarded generation with retries across the
// fallback chain, then a consistency resample of the result when
// requested.
func (s *Scheduler) dispatch(ctx context.Context, g *task.Graph, st *task.SubTask, tr *trace.Trace, resample bool) dispatchOutcome {
	s.metrics.IncActiveSubtasks()
	defer s.metrics.DecActiveSubtasks()

	out := dispatchOutcome{st: st}
	prompt := buildSubtaskPrompt(g, st)
	tier := s.pool.ResolveTier(st.RequiredCapabilities)
	chain := s.pool.FallbackChain(tier)

	attempts := s.cfg.Scheduler.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		target := chain[len(chain)-1]
		if attempt < len(chain) {
			target = chain[attempt]
		}

		out.attempts++
		gen, served, err := s.pool.Generate(ctx, target, backend.GenerateRequest{
			Prompt: prompt,
		}, tr, st.ID)
		if err == nil {
			out.text = gen.Text
			out.tierUsed = served
			if resample {
				s.scoreResult(ctx, &out, prompt, tr)
			}
			return out
		}

		lastErr = err
		s.logf("subtask %s attempt %d on tier %s: %v", st.ID, out.attempts, target, err)
		if ctx.Err() != nil {
			break
		}
	}

	out.err = lastErr
	return out
}

// scoreResult resamples the subtask's prompt and scores the agreement.
// A confident majority replaces the single-sample result before
// dependents consume it; an unavailable resample keeps the result
// unscored rather than failing the subtask.
func (s *Scheduler) scoreResult(ctx context.Context, out *dispatchOutcome, prompt string, tr *trace.Trace) {
	verdict, err := s.verifier.Verify(ctx, prompt, out.tierUsed, tr, out.st.ID)
	if err != nil {
		s.logf("subtask %s consistency sampling unavailable: %v", out.st.ID, err)
		return
	}
	out.scored = true
	out.confidence = verdict.ConsistencyScore
	if verdict.IsConfident {
		out.text = verdict.Answer
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// buildSubtaskPrompt prefixes the instruction with completed dependency
// results, in dependency declaration order.
func buildSubtaskPrompt(g *task.Graph, st *task.SubTask) string {
	deps := g.Dependencies(st.ID)
	if len(deps) == 0 {
		return st.Instruction
	}

	var sb strings.Builder
	sb.WriteString("Results from prerequisite steps:\n\n")
	for i, dep := range deps {
		sb.WriteString(fmt.Sprintf("Step %d:\n%s\n\n", i+1, dep.Result))
	}
	sb.WriteString("Your task:\n")
	sb.WriteString(st.Instruction)
	return sb.String()
}

// failPoisoned marks non-terminal subtasks with a failed dependency as
// failed and returns them.
func failPoisoned(g *task.Graph, subtasks []*task.SubTask) []*task.SubTask {
	var poisoned []*task.SubTask
	for _, st := range subtasks {
		if st.Status.Terminal() || st.Status == task.StatusRunning {
			continue
		}
		for _, dep := range g.Dependencies(st.ID) {
			if dep.Status == task.StatusFailed {
				st.Status = task.StatusFailed
				st.Error = fmt.Sprintf("dependency %s failed", dep.ID)
				poisoned = append(poisoned, st)
				break
			}
		}
	}
	return poisoned
}

// failRemaining marks every non-terminal subtask failed, recording the
// abort reason.
func failRemaining(subtasks []*task.SubTask, cause error) {
	for _, st := range subtasks {
		if st.Status.Terminal() {
			continue
		}
		st.Status = task.StatusFailed
		st.Error = fmt.Sprintf("aborted: %v", cause)
	}
}
