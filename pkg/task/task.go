// Package task defines the unit of delegated work and the dependency
// graph a decomposed query executes over.
package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// Status represents the current state of a subtask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SubTask is one unit of delegated work within a decomposition. It is
// owned by the decomposition that created it and mutated only by the
// scheduler.
type SubTask struct {
	// ID is unique within a decomposition.
	ID string `json:"id"`
	// Instruction is the text the backend executes.
	Instruction string `json:"instruction"`
	// RequiredCapabilities are capability tags, e.g. "coding", "analysis".
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// DependsOn lists subtask IDs that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state.
	Status Status `json:"status"`
	// Result holds the output text once completed.
	Result string `json:"result,omitempty"`
	// TierUsed is the backend tier that actually served the subtask.
	TierUsed backend.Tier `json:"tier_used,omitempty"`
	// Confidence is the self-consistency score recorded when the result
	// was resampled. Zero means the result was never scored.
	Confidence float64 `json:"confidence,omitempty"`
	// AttemptCount is the number of dispatch attempts made.
	AttemptCount int `json:"attempt_count"`
	// Error holds the failure reason, if any.
	Error string `json:"error,omitempty"`
}

// NewSubTask creates a pending subtask with a fresh ID.
func NewSubTask(instruction string, capabilities []string, dependsOn []string) *SubTask {
	return &SubTask{
		ID:                   uuid.NewString(),
		Instruction:          instruction,
		RequiredCapabilities: capabilities,
		DependsOn:            dependsOn,
		Status:               StatusPending,
	}
}

// Decomposition is an ordered collection of subtasks plus the
// classification metadata the query arrived with.
type Decomposition struct {
	TaskType             string     `json:"task_type"`
	Complexity           float64    `json:"complexity"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	SubTasks             []*SubTask `json:"subtasks"`
}

// Single wraps one instruction as a non-decomposed decomposition.
func Single(instruction, taskType string, complexity float64, capabilities []string) *Decomposition {
	return &Decomposition{
		TaskType:             taskType,
		Complexity:           complexity,
		RequiredCapabilities: capabilities,
		SubTasks:             []*SubTask{NewSubTask(instruction, capabilities, nil)},
	}
}

// Get returns the subtask with the given ID, or nil.
func (d *Decomposition) Get(id string) *SubTask {
	for _, st := range d.SubTasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Validate checks structural integrity: non-empty, unique IDs, known
// dependency references, and an acyclic dependency graph.
func (d *Decomposition) Validate() error {
	if len(d.SubTasks) == 0 {
		return fmt.Errorf("decomposition has no subtasks")
	}
	seen := make(map[string]bool, len(d.SubTasks))
	for _, st := range d.SubTasks {
		if st.ID == "" {
			return fmt.Errorf("subtask with empty id")
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		seen[st.ID] = true
	}
	_, err := NewGraph(d.SubTasks)
	return err
}
