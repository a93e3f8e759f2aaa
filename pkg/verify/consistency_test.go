package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSelfConsistency_Unanimous(t *testing.T) {
	result := ComputeSelfConsistency(
		[]string{"Paris", "Paris", "Paris", "Paris", "Paris"}, 0.6)

	assert.Equal(t, 1.0, result.PHat)
	assert.Equal(t, 5, result.AgreementCount)
	assert.Equal(t, "Paris", result.MajorityAnswer)
	assert.True(t, result.IsConfident)
}

func TestComputeSelfConsistency_Split(t *testing.T) {
	result := ComputeSelfConsistency(
		[]string{"Paris", "London", "Paris", "Berlin", "Paris"}, 0.6)

	assert.Equal(t, 0.6, result.PHat)
	assert.Equal(t, 3, result.AgreementCount)
	assert.Equal(t, "Paris", result.MajorityAnswer)
	assert.True(t, result.IsConfident)
}

func TestComputeSelfConsistency_TieKeepsFirstSeen(t *testing.T) {
	result := ComputeSelfConsistency(
		[]string{"London", "Paris", "London", "Paris"}, 0.6)

	assert.Equal(t, "London", result.MajorityAnswer,
		"tie resolves to the first-encountered form, not the lexicographically smallest")
	assert.Equal(t, 2, result.AgreementCount)
	assert.Equal(t, 0.5, result.PHat)
	assert.False(t, result.IsConfident)
}

func TestComputeSelfConsistency_NormalizesBeforeVoting(t *testing.T) {
	result := ComputeSelfConsistency(
		[]string{"Paris", " paris ", "PARIS.", "London"}, 0.6)

	assert.Equal(t, 3, result.AgreementCount)
	assert.Equal(t, "Paris", result.MajorityAnswer,
		"majority reported in its first-encountered original form")
}

func TestComputeSelfConsistency_StructuredResponses(t *testing.T) {
	result := ComputeSelfConsistency([]string{
		`{"answer": "42"}`,
		"42",
		`{"answer": "42", "confidence": 0.8}`,
		"41",
	}, 0.6)

	assert.Equal(t, 3, result.AgreementCount)
	assert.Equal(t, "42", result.MajorityAnswer)
}

func TestComputeSelfConsistency_Empty(t *testing.T) {
	result := ComputeSelfConsistency(nil, 0.6)
	require.NotNil(t, result)
	assert.Equal(t, 0.0, result.PHat)
	assert.False(t, result.IsConfident)
}

func TestShouldUseToolVerification_Boundary(t *testing.T) {
	assert.False(t, ShouldUseToolVerification(0.8, 0.6))
	assert.True(t, ShouldUseToolVerification(0.4, 0.6))
	assert.False(t, ShouldUseToolVerification(0.6, 0.6))
	assert.True(t, ShouldUseToolVerification(0.59, 0.6))
}
