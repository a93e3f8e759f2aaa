// Package trace records every routing decision made while serving a
// query: which tier was asked for, which backend answered, how long it
// took, and what it cost.
package trace

import (
	"sync"
	"time"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// Outcome classifies a single dispatch attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeFallback    Outcome = "fallback"
	OutcomeCircuitOpen Outcome = "circuit_open"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Entry is one routing decision. Entries are immutable once appended.
type Entry struct {
	Timestamp     time.Time        `json:"timestamp"`
	SubtaskID     string           `json:"subtask_id,omitempty"`
	RequestedTier backend.Tier     `json:"requested_tier"`
	ServedTier    backend.Tier     `json:"served_tier,omitempty"`
	Provider      backend.Provider `json:"provider,omitempty"`
	Model         string           `json:"model,omitempty"`
	Outcome       Outcome          `json:"outcome"`
	DurationMs    int64            `json:"duration_ms"`
	PromptTokens  int              `json:"prompt_tokens,omitempty"`
	OutputTokens  int              `json:"output_tokens,omitempty"`
	CostUSD       float64          `json:"cost_usd,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Trace is an append-only log of entries for one query. Safe for
// concurrent appends from scheduler workers.
type Trace struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty trace.
func New() *Trace {
	return &Trace{}
}

// Append adds an entry, stamping the time if unset.
func (t *Trace) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Entries returns a copy of all entries in append order.
func (t *Trace) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// TotalCost sums the cost of all entries.
func (t *Trace) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, e := range t.entries {
		total += e.CostUSD
	}
	return total
}

// CountByOutcome returns how many entries carry each outcome.
func (t *Trace) CountByOutcome() map[Outcome]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[Outcome]int)
	for _, e := range t.entries {
		counts[e.Outcome]++
	}
	return counts
}
