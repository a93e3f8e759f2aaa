// Package classify turns a raw query into classification metadata: task
// type, required capability tags, and a complexity estimate. A trigger
// rule table answers most queries; an LLM tie-breaker refines the rest.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/tiergate/pkg/config"
)

// Candidate is one task type the heuristic considered.
type Candidate struct {
	TaskType     string
	Score        int
	Triggers     []string
	Capabilities []string
	Complexity   float64
}

// RuleSet holds the task type table used for trigger matching.
type RuleSet struct {
	taskTypes map[string]config.TaskTypeConfig
}

// NewRuleSet creates a rule set over the task type table.
func NewRuleSet(taskTypes map[string]config.TaskTypeConfig) *RuleSet {
	return &RuleSet{taskTypes: taskTypes}
}

// Heuristic scores task types by trigger matches and returns a
// classification with candidates attached. Unmatched queries classify
// as "general" with zero confidence.
func (rs *RuleSet) Heuristic(query string) *Classification {
	queryLower := strings.ToLower(query)

	var candidates []Candidate
	for taskType, tt := range rs.taskTypes {
		var matched []string
		for _, trig := range tt.Triggers {
			if containsTrigger(queryLower, strings.ToLower(trig)) {
				matched = append(matched, trig)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			TaskType:     taskType,
			Score:        len(matched),
			Triggers:     matched,
			Capabilities: tt.Capabilities,
			Complexity:   tt.Complexity,
		})
	}

	if len(candidates) == 0 {
		return &Classification{
			TaskType:             "general",
			Complexity:           0.3,
			RequiredCapabilities: []string{"general"},
			Confidence:           0,
			Reasons:              []string{"no triggers matched; using general"},
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].TaskType < candidates[j].TaskType
		}
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	topScore := candidates[0].Score
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = candidates[1].Score
	}

	margin := float64(topScore-secondScore) / float64(max(topScore, 1))
	strength := float64(min(topScore, 5)) / 5.0
	confidence := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		confidence = maxFloat(confidence, 0.9)
	}
	if topScore >= 3 {
		confidence = minFloat(confidence+0.15, 1.0)
	}

	top := candidates[0]
	return &Classification{
		TaskType:             top.TaskType,
		Complexity:           top.Complexity,
		RequiredCapabilities: top.Capabilities,
		Confidence:           confidence,
		Reasons:              []string{fmt.Sprintf("top_score=%d second_score=%d", topScore, secondScore)},
		Candidates:           candidates,
	}
}

// containsTrigger checks if the query contains the trigger phrase as a
// word or phrase boundary match.
func containsTrigger(query, trigger string) bool {
	idx := strings.Index(query, trigger)
	if idx == -1 {
		return false
	}

	if idx > 0 && isWordChar(query[idx-1]) {
		return false
	}
	endIdx := idx + len(trigger)
	if endIdx < len(query) && isWordChar(query[endIdx]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
