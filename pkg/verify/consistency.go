// Package verify quantifies answer uncertainty through self-consistency
// sampling and, for low-confidence answers, tool-backed checks.
package verify

import (
	"github.com/zen-systems/tiergate/pkg/extract"
)

// ConsistencyResult is the outcome of one majority vote over samples.
type ConsistencyResult struct {
	// Responses are the raw sampled outputs in original order.
	Responses []string `json:"responses"`
	// MajorityAnswer is the extracted answer of the winning class, in
	// its first-encountered original form.
	MajorityAnswer string `json:"majority_answer"`
	// AgreementCount is the size of the winning class.
	AgreementCount int `json:"agreement_count"`
	// PHat is AgreementCount / len(Responses).
	PHat float64 `json:"p_hat"`
	// IsConfident reports PHat >= threshold.
	IsConfident bool `json:"is_confident"`
}

// ComputeSelfConsistency tallies a majority vote over responses. Each
// response is reduced to an answer (structured parses prefer the
// answer-bearing field) and normalized for comparison; the vote counts
// exact matches on the normalized form. Ties resolve to the
// first-encountered normalized form in sample order.
func ComputeSelfConsistency(responses []string, threshold float64) *ConsistencyResult {
	result := &ConsistencyResult{Responses: responses}
	if len(responses) == 0 {
		return result
	}

	counts := make(map[string]int, len(responses))
	firstForm := make(map[string]string, len(responses))
	bestKey := ""
	bestCount := 0

	for _, raw := range responses {
		answer := extract.Answer(raw).Answer
		key := extract.Normalize(answer)
		if _, seen := firstForm[key]; !seen {
			firstForm[key] = answer
		}
		counts[key]++
		// Strictly-greater keeps the first-encountered form on ties.
		if counts[key] > bestCount {
			bestKey = key
			bestCount = counts[key]
		}
	}

	result.MajorityAnswer = firstForm[bestKey]
	result.AgreementCount = bestCount
	result.PHat = float64(bestCount) / float64(len(responses))
	result.IsConfident = result.PHat >= threshold
	return result
}

// ShouldUseToolVerification reports whether a consistency score is low
// enough to warrant tool-backed verification. The threshold itself is
// confident: exactly-at-threshold answers are accepted.
func ShouldUseToolVerification(score, threshold float64) bool {
	return score < threshold
}
