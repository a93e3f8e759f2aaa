package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunRecord captures query-level metadata for a persisted run.
type RunRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Query         string    `json:"query"`
	TaskType      string    `json:"task_type,omitempty"`
	Complexity    float64   `json:"complexity,omitempty"`
	SubtaskCount  int       `json:"subtask_count"`
	Answer        string    `json:"answer,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
	DurationMs    int64     `json:"duration_ms"`
	PartialResult bool      `json:"partial_result,omitempty"`
}

// Writer persists run metadata and the routing trace to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.runDir, "run.json"), data, 0644)
}

// WriteTrace writes the trace to trace.jsonl, one entry per line.
func (w *Writer) WriteTrace(t *Trace) error {
	f, err := os.Create(filepath.Join(w.runDir, "trace.jsonl"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	for _, e := range t.Entries() {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// ReadTrace loads trace.jsonl from a run directory.
func ReadTrace(runDir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(runDir, "trace.jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
