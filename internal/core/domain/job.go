package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Scenario selects the pipeline behaviour for a job.
type Scenario string

const (
	// ScenarioAudit runs the full agent loop over the ingested corpus.
	ScenarioAudit Scenario = "audit"
	// ScenarioSearch is the legacy fast path: a direct corpus search
	// without any model involvement.
	ScenarioSearch Scenario = "search"
)

// Job is one tracked unit of work for a submitted query. It is owned by the
// orchestrator: exactly one pipeline mutates it, pollers only ever see
// snapshots. Once a terminal status is applied the record is immutable.
type Job struct {
	ID        JobID     `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress_percent"`
	Message   string    `json:"message"`
	Logs      []string  `json:"logs"`
	Result    *string   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var ErrJobNotFound = errors.New("job not found")

// NewJobID generates a random job identifier.
func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// NewJob creates a queued job with its first log line.
func NewJob() *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:        NewJobID(),
		Status:    JobStatusQueued,
		Message:   "job created",
		CreatedAt: now,
		UpdatedAt: now,
	}
	j.appendLog(now, "job created")
	return j
}

// Terminal reports whether the status is a final one.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Apply records a progress event on a non-terminal job. Progress is clamped
// to be monotonically non-decreasing; a message always appends a log line.
// Calling Apply on a terminal job is a no-op.
func (j *Job) Apply(message string, percent int) {
	if j.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.UpdatedAt = now
	if message != "" {
		j.Message = message
		j.appendLog(now, message)
	}
	if percent > j.Progress {
		if percent > 100 {
			percent = 100
		}
		j.Progress = percent
	}
}

// Start transitions queued → running.
func (j *Job) Start() {
	if j.Terminal() {
		return
	}
	j.Status = JobStatusRunning
	j.Apply("pipeline started", 1)
}

// Complete applies the result and seals the job.
func (j *Job) Complete(result string) {
	if j.Terminal() {
		return
	}
	j.Apply("job completed", 100)
	j.Status = JobStatusCompleted
	j.Result = &result
}

// Fail records the error detail and seals the job. Progress is left where the
// pipeline got to so the failure point stays visible.
func (j *Job) Fail(detail string) {
	if j.Terminal() {
		return
	}
	j.Apply("job failed: "+detail, 0)
	j.Status = JobStatusFailed
	j.Error = &detail
}

// Snapshot returns a deep copy safe to hand to concurrent readers.
func (j *Job) Snapshot() Job {
	cp := *j
	cp.Logs = make([]string, len(j.Logs))
	copy(cp.Logs, j.Logs)
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return cp
}

func (j *Job) appendLog(ts time.Time, message string) {
	j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", ts.Format(time.RFC3339), message))
}
