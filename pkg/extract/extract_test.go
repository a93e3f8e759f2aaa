package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer_StrictJSON(t *testing.T) {
	r := Answer(`{"answer": "paris", "confidence": 0.9}`)
	assert.Equal(t, "paris", r.Answer)
	assert.Equal(t, MethodStrict, r.Method)
}

func TestAnswer_FieldLookupOnLooseJSON(t *testing.T) {
	// Trailing garbage keeps strict parsing from succeeding.
	r := Answer(`{"answer": "paris", "confidence": 0.9} I hope that helps!`)
	assert.Equal(t, "paris", r.Answer)
	assert.Equal(t, MethodField, r.Method)
}

func TestAnswer_FencedBlock(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"answer\": \"42\"}\n```\nLet me know if you need more."
	r := Answer(raw)
	assert.Equal(t, "42", r.Answer)
	assert.Equal(t, MethodFenced, r.Method)
}

func TestAnswer_RepairedJSON(t *testing.T) {
	// Unquoted key and a missing closing brace.
	r := Answer(`{answer: "paris"`)
	assert.Equal(t, "paris", r.Answer)
	assert.Equal(t, MethodRepaired, r.Method)
}

func TestAnswer_RawFallbackNeverFails(t *testing.T) {
	r := Answer("  The capital of France is Paris.  ")
	assert.Equal(t, "The capital of France is Paris.", r.Answer)
	assert.Equal(t, MethodRaw, r.Method)

	empty := Answer("")
	assert.Equal(t, "", empty.Answer)
	assert.Equal(t, MethodRaw, empty.Method)
}

func TestJSON_StrictAndFenced(t *testing.T) {
	var v struct {
		TaskType string `json:"task_type"`
	}
	method, err := JSON(`{"task_type": "coding"}`, &v)
	require.NoError(t, err)
	assert.Equal(t, MethodStrict, method)
	assert.Equal(t, "coding", v.TaskType)

	v.TaskType = ""
	method, err = JSON("```json\n{\"task_type\": \"math\"}\n```", &v)
	require.NoError(t, err)
	assert.Equal(t, MethodFenced, method)
	assert.Equal(t, "math", v.TaskType)
}

func TestJSON_RepairsTruncatedOutput(t *testing.T) {
	var v struct {
		TaskType   string  `json:"task_type"`
		Complexity float64 `json:"complexity"`
	}
	method, err := JSON(`{"task_type": "analysis", "complexity": 0.7`, &v)
	require.NoError(t, err)
	assert.Equal(t, MethodRepaired, method)
	assert.Equal(t, "analysis", v.TaskType)
	assert.Equal(t, 0.7, v.Complexity)
}

func TestJSON_FailsOnProse(t *testing.T) {
	var v map[string]any
	_, err := JSON("I could not produce JSON for this request, sorry.", &v)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Paris  ", "paris"},
		{"Paris.", "paris"},
		{"PARIS!", "paris"},
		{"London", "london"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "Normalize(%q)", tc.in)
	}
}
