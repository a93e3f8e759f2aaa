package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/extract"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/task"
	"github.com/zen-systems/tiergate/pkg/trace"
)

// Decomposer splits a complex query into a dependency-ordered set of
// subtasks via one LLM call.
type Decomposer struct {
	pool *pool.Pool
	cfg  *config.Config
}

// NewDecomposer creates a decomposer over the pool and config.
func NewDecomposer(p *pool.Pool, cfg *config.Config) *Decomposer {
	return &Decomposer{pool: p, cfg: cfg}
}

// subtaskDescriptor is the wire shape the model returns. Titles stand in
// for IDs; dependencies reference titles.
type subtaskDescriptor struct {
	Title        string   `json:"title"`
	Instruction  string   `json:"instruction"`
	Capabilities []string `json:"required_capabilities,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// Decompose asks the model to split the query into subtasks and builds a
// validated decomposition from the response. Any failure — bad JSON, an
// empty plan, dangling or cyclic dependencies — returns an error; the
// caller falls back to single-subtask execution.
func (d *Decomposer) Decompose(ctx context.Context, query string, cls *Classification, tr *trace.Trace) (*task.Decomposition, error) {
	gen, _, err := d.pool.Generate(ctx, d.cfg.Classifier.Tier, backend.GenerateRequest{
		Prompt:    buildDecomposePrompt(query, cls, d.cfg.Decompose.MaxSubtasks),
		MaxTokens: 1024,
	}, tr, "")
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}

	var plan struct {
		SubTasks []subtaskDescriptor `json:"subtasks"`
	}
	if _, err := extract.JSON(gen.Text, &plan); err != nil {
		return nil, fmt.Errorf("decomposition response: %w", err)
	}
	if len(plan.SubTasks) == 0 {
		return nil, fmt.Errorf("decomposition produced no subtasks")
	}
	if len(plan.SubTasks) > d.cfg.Decompose.MaxSubtasks {
		plan.SubTasks = plan.SubTasks[:d.cfg.Decompose.MaxSubtasks]
	}

	decomp, err := buildDecomposition(plan.SubTasks, cls)
	if err != nil {
		return nil, err
	}
	return decomp, nil
}

// buildDecomposition resolves title references into subtask IDs and
// validates the dependency graph.
func buildDecomposition(descriptors []subtaskDescriptor, cls *Classification) (*task.Decomposition, error) {
	idByTitle := make(map[string]string, len(descriptors))
	subtasks := make([]*task.SubTask, 0, len(descriptors))

	for i, desc := range descriptors {
		title := strings.TrimSpace(desc.Title)
		if title == "" {
			title = fmt.Sprintf("step-%d", i+1)
		}
		if _, dup := idByTitle[title]; dup {
			return nil, fmt.Errorf("duplicate subtask title %q", title)
		}
		instruction := strings.TrimSpace(desc.Instruction)
		if instruction == "" {
			return nil, fmt.Errorf("subtask %q has no instruction", title)
		}
		capabilities := desc.Capabilities
		if len(capabilities) == 0 {
			capabilities = cls.RequiredCapabilities
		}

		st := task.NewSubTask(instruction, capabilities, nil)
		idByTitle[title] = st.ID
		subtasks = append(subtasks, st)
	}

	for i, desc := range descriptors {
		for _, depTitle := range desc.DependsOn {
			depID, ok := idByTitle[strings.TrimSpace(depTitle)]
			if !ok {
				return nil, fmt.Errorf("subtask %q depends on unknown subtask %q", desc.Title, depTitle)
			}
			subtasks[i].DependsOn = append(subtasks[i].DependsOn, depID)
		}
	}

	decomp := &task.Decomposition{
		TaskType:             cls.TaskType,
		Complexity:           cls.Complexity,
		RequiredCapabilities: cls.RequiredCapabilities,
		SubTasks:             subtasks,
	}
	if err := decomp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decomposition: %w", err)
	}
	return decomp, nil
}

func buildDecomposePrompt(query string, cls *Classification, maxSubtasks int) string {
	var sb strings.Builder
	sb.WriteString("Split the following task into at most ")
	sb.WriteString(fmt.Sprintf("%d", maxSubtasks))
	sb.WriteString(" subtasks.\n")
	sb.WriteString("Return ONLY JSON: {\"subtasks\":[{\"title\":\"...\",\"instruction\":\"...\",")
	sb.WriteString("\"required_capabilities\":[\"...\"],\"depends_on\":[\"title\"]}]}.\n")
	sb.WriteString("Dependencies reference other subtask titles. Keep the graph acyclic.\n\n")
	sb.WriteString(fmt.Sprintf("Task type: %s\n", cls.TaskType))
	if len(cls.RequiredCapabilities) > 0 {
		sb.WriteString(fmt.Sprintf("Capabilities: %s\n", strings.Join(cls.RequiredCapabilities, ", ")))
	}
	sb.WriteString("\nTask:\n")
	sb.WriteString(query)
	return sb.String()
}
