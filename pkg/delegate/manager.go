package delegate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/tiergate/pkg/classify"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/metrics"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/task"
	"github.com/zen-systems/tiergate/pkg/trace"
	"github.com/zen-systems/tiergate/pkg/verify"
)

// Result is the final outcome of one handled query.
type Result struct {
	Answer string `json:"answer"`

	TaskType   string  `json:"task_type"`
	Complexity float64 `json:"complexity"`

	// Confidence is the self-consistency score when a verification pass
	// ran, otherwise the classification confidence.
	Confidence float64 `json:"confidence"`

	SubtaskCount int  `json:"subtask_count"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	Partial      bool `json:"partial"`

	Verified              bool `json:"verified"`
	NeedsToolVerification bool `json:"needs_tool_verification,omitempty"`

	// ToolVerification holds the outcome of the local command check run
	// when sampling agreement stayed below the confidence threshold.
	ToolVerification *verify.ToolResult `json:"tool_verification,omitempty"`

	Decomposition *task.Decomposition `json:"decomposition,omitempty"`
	Trace         *trace.Trace        `json:"-"`
	Duration      time.Duration       `json:"-"`
}

// Manager coordinates one query through its lifecycle: classify, then
// decompose when complexity warrants it, execute the subtask graph, and
// aggregate and verify the answer. Every backend call the manager makes
// goes through the pool's guarded dispatch path.
type Manager struct {
	cfg        *config.Config
	pool       *pool.Pool
	metrics    *metrics.Metrics
	classifier *classify.Classifier
	decomposer *classify.Decomposer
	scheduler  *Scheduler
	verifier   *verify.Verifier
	tools      *verify.ToolVerifier

	// Logf receives lifecycle diagnostics. Nil disables logging.
	Logf func(format string, args ...any)
}

// NewManager creates a manager over a registered pool.
func NewManager(p *pool.Pool, cfg *config.Config, m *metrics.Metrics) (*Manager, error) {
	classifier, err := classify.NewClassifier(p, cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		pool:       p,
		metrics:    m,
		classifier: classifier,
		decomposer: classify.NewDecomposer(p, cfg),
		scheduler:  NewScheduler(p, cfg, m),
		verifier:   verify.NewVerifier(p, cfg),
		tools:      verify.NewToolVerifier(nil, 0),
	}, nil
}

// HandleQuery runs one query to completion and returns the answer with
// its execution trace. Subtask failures degrade to a partial answer;
// only an unusable query, a fully failed execution, or cancellation
// return an error.
func (m *Manager) HandleQuery(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	tr := trace.New()

	cls, err := m.classifier.Classify(ctx, query, tr)
	if err != nil {
		m.metrics.IncQuery("rejected")
		return nil, fmt.Errorf("classify query: %w", err)
	}
	m.logf("classified as %s (complexity=%.2f confidence=%.2f)",
		cls.TaskType, cls.Complexity, cls.Confidence)

	decomp := m.plan(ctx, query, cls, tr)

	if err := m.scheduler.Execute(ctx, decomp, tr); err != nil {
		m.metrics.IncQuery("failed")
		return nil, fmt.Errorf("execute decomposition: %w", err)
	}

	answer, completed, failed, firstErr := aggregate(decomp)
	result := &Result{
		Answer:        answer,
		TaskType:      cls.TaskType,
		Complexity:    cls.Complexity,
		Confidence:    cls.Confidence,
		SubtaskCount:  len(decomp.SubTasks),
		Completed:     completed,
		Failed:        failed,
		Partial:       failed > 0 && completed > 0,
		Decomposition: decomp,
		Trace:         tr,
	}

	if completed == 0 {
		m.metrics.IncQuery("failed")
		result.Duration = time.Since(start)
		return result, fmt.Errorf("all %d subtasks failed: %s", len(decomp.SubTasks), firstErr)
	}

	if len(decomp.SubTasks) > 1 && m.cfg.Consistency.Samples > 1 {
		m.verifySynthesis(ctx, query, cls.RequiredCapabilities, tr, result)
		if result.NeedsToolVerification {
			m.checkWithTools(ctx, cls.RequiredCapabilities, result)
		}
	}

	status := "completed"
	if result.Partial {
		status = "partial"
	}
	m.metrics.IncQuery(status)

	result.Duration = time.Since(start)
	return result, nil
}

// plan decides between direct execution and decomposition. A failed or
// structurally invalid decomposition downgrades to a single subtask.
func (m *Manager) plan(ctx context.Context, query string, cls *classify.Classification, tr *trace.Trace) *task.Decomposition {
	if cls.Complexity <= m.cfg.Decompose.ComplexityThreshold {
		return task.Single(query, cls.TaskType, cls.Complexity, cls.RequiredCapabilities)
	}

	decomp, err := m.decomposer.Decompose(ctx, query, cls, tr)
	if err != nil {
		m.logf("decomposition unusable, running query as a single subtask: %v", err)
		return task.Single(query, cls.TaskType, cls.Complexity, cls.RequiredCapabilities)
	}
	m.logf("decomposed into %d subtasks", len(decomp.SubTasks))
	return decomp
}

// verifySynthesis resamples a synthesis of the concatenated subtask
// results and replaces the answer with the majority vote. A failed
// verification keeps the concatenated answer.
func (m *Manager) verifySynthesis(ctx context.Context, query string, capabilities []string, tr *trace.Trace, result *Result) {
	tier := m.pool.ResolveTier(capabilities)
	verdict, err := m.verifier.Verify(ctx, buildSynthesisPrompt(query, result.Answer), tier, tr, "")
	if err != nil {
		m.logf("synthesis verification unavailable: %v", err)
		return
	}

	result.Answer = verdict.Answer
	result.Confidence = verdict.ConsistencyScore
	result.Verified = true
	result.NeedsToolVerification = verdict.NeedsToolVerification
}

// checkWithTools runs an allowlisted local command over a low-agreement
// answer when one of the query's capabilities has a checkable shape. A
// passing check settles the answer and clears the tool flag.
func (m *Manager) checkWithTools(ctx context.Context, capabilities []string, result *Result) {
	capability, expr, ok := answerCheck(capabilities, result.Answer)
	if !ok {
		return
	}

	toolRes, err := m.tools.CheckAnswer(ctx, capability, expr)
	if err != nil {
		m.logf("tool verification unavailable: %v", err)
		return
	}

	result.ToolVerification = toolRes
	if toolRes.Passed {
		result.NeedsToolVerification = false
	}
	m.logf("tool verification for %s: passed=%v", capability, toolRes.Passed)
}

// answerCheck maps query capabilities to a runnable check expression.
// Only short single-line math answers have one: evaluating the answer
// as an expression catches answers that are not even well formed.
func answerCheck(capabilities []string, answer string) (capability, expr string, ok bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" || strings.Contains(answer, "\n") {
		return "", "", false
	}
	for _, c := range capabilities {
		if c == "math" {
			return "math", fmt.Sprintf("print(%s)", answer), true
		}
	}
	return "", "", false
}

// aggregate concatenates completed subtask results in dependency order.
// The graph was validated before execution, so it rebuilds cleanly.
func aggregate(decomp *task.Decomposition) (answer string, completed, failed int, firstErr string) {
	g, err := task.NewGraph(decomp.SubTasks)
	if err != nil {
		// Unreachable after a successful Execute; degrade to declaration order.
		return aggregateFlat(decomp)
	}

	var parts []string
	for _, id := range g.TopologicalOrder() {
		st := g.Get(id)
		switch st.Status {
		case task.StatusCompleted:
			completed++
			parts = append(parts, st.Result)
		case task.StatusFailed:
			failed++
			if firstErr == "" {
				firstErr = st.Error
			}
		}
	}
	return strings.Join(parts, "\n\n"), completed, failed, firstErr
}

func aggregateFlat(decomp *task.Decomposition) (answer string, completed, failed int, firstErr string) {
	var parts []string
	for _, st := range decomp.SubTasks {
		switch st.Status {
		case task.StatusCompleted:
			completed++
			parts = append(parts, st.Result)
		case task.StatusFailed:
			failed++
			if firstErr == "" {
				firstErr = st.Error
			}
		}
	}
	return strings.Join(parts, "\n\n"), completed, failed, firstErr
}

func buildSynthesisPrompt(query, workingAnswer string) string {
	var sb strings.Builder
	sb.WriteString("Combine the step results below into one final answer to the question.\n\n")
	sb.WriteString("Question:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nStep results:\n")
	sb.WriteString(workingAnswer)
	return sb.String()
}

func (m *Manager) logf(format string, args ...any) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}
