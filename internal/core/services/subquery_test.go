package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvhal/replagent/internal/core/ports"
)

func TestSubQueryRunsNestedLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"FINAL_ANSWER: the subset mentions Uber"}}
	newExec := func() ports.Executor { return &fakeExec{} }

	subQuery := NewSubQuery(testLogger(), llm, newExec, SubQueryConfig{})

	answer, err := subQuery(context.Background(), "which vendor appears?", []string{"Vendor: Uber"})
	require.NoError(t, err)
	assert.Equal(t, "the subset mentions Uber", answer)
	assert.Equal(t, 1, llm.calls)
}

func TestSubQueryDepthLimit(t *testing.T) {
	llm := &scriptedLLM{}
	newExec := func() ports.Executor { return &fakeExec{} }

	nested := subQueryAt(testLogger(), llm, newExec, SubQueryConfig{MaxDepth: 1}.withDefaults(), 1)

	answer, err := nested(context.Background(), "go deeper", []string{"doc"})
	require.NoError(t, err)
	assert.Contains(t, answer, "recursion depth exceeded")
	assert.Zero(t, llm.calls, "beyond the depth limit no model call happens")
}

func TestSubQueryFailureComesBackAsText(t *testing.T) {
	// Three malformed replies exhaust the nested loop's malformed budget.
	llm := &scriptedLLM{responses: []string{"shrug", "shrug", "shrug"}}
	newExec := func() ports.Executor { return &fakeExec{} }

	subQuery := NewSubQuery(testLogger(), llm, newExec, SubQueryConfig{})

	answer, err := subQuery(context.Background(), "q", []string{"doc"})
	require.NoError(t, err, "loop failures surface as observable text, not errors")
	assert.Contains(t, answer, "sub-query failed")
}
