package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob()

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.False(t, job.Terminal())
	require.Len(t, job.Logs, 1)
	assert.Contains(t, job.Logs[0], "job created")
}

func TestJobProgressIsMonotone(t *testing.T) {
	job := NewJob()
	job.Start()

	job.Apply("halfway", 50)
	assert.Equal(t, 50, job.Progress)

	// A lower percentage never rolls progress back.
	job.Apply("late batch report", 30)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, "late batch report", job.Message)

	job.Apply("overshoot", 250)
	assert.Equal(t, 100, job.Progress)
}

func TestJobComplete(t *testing.T) {
	job := NewJob()
	job.Start()
	job.Complete("the answer")

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.True(t, job.Terminal())
	require.NotNil(t, job.Result)
	assert.Equal(t, "the answer", *job.Result)
	assert.Nil(t, job.Error)
	assert.Equal(t, 100, job.Progress)
}

func TestJobFail(t *testing.T) {
	job := NewJob()
	job.Start()
	job.Apply("working", 30)
	job.Fail("model unreachable")

	assert.Equal(t, JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "model unreachable", *job.Error)
	assert.Nil(t, job.Result)
	// Failure keeps the progress the pipeline reached.
	assert.Equal(t, 30, job.Progress)
}

func TestTerminalJobIsImmutable(t *testing.T) {
	job := NewJob()
	job.Start()
	job.Complete("done")

	logs := len(job.Logs)
	job.Apply("stray update", 10)
	job.Fail("stray failure")
	job.Complete("second answer")

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, "done", *job.Result)
	assert.Nil(t, job.Error)
	assert.Len(t, job.Logs, logs)
}

func TestJobSnapshotIsIsolated(t *testing.T) {
	job := NewJob()
	job.Start()
	job.Apply("first", 10)

	snap := job.Snapshot()
	job.Apply("second", 20)

	assert.Equal(t, 10, snap.Progress)
	assert.Equal(t, "first", snap.Message)
	assert.Less(t, len(snap.Logs), len(job.Logs))
}

func TestExecutionResultObservation(t *testing.T) {
	assert.Equal(t, "42\n", ExecutionResult{Output: "42\n", Success: true}.Observation())
	assert.Equal(t, "[code executed successfully with no output]",
		ExecutionResult{Success: true}.Observation())

	obs := ExecutionResult{
		Success:   false,
		ErrorKind: ExecErrRuntimeFault,
		ErrorText: "undefined: x",
	}.Observation()
	assert.Contains(t, obs, "RUNTIME_FAULT")
	assert.Contains(t, obs, "undefined: x")
}

func TestConversationRender(t *testing.T) {
	conv := NewConversation("system frame", "count the documents")
	conv.Append(RoleAssistant, "running code")
	conv.Append(RoleObservation, "3")

	rendered := conv.Render()
	assert.Contains(t, rendered, "system frame")
	assert.Contains(t, rendered, "Query: count the documents")
	assert.Contains(t, rendered, "OBSERVATION:\n3")
}
