package services

import (
	"sync"

	"github.com/arvhal/replagent/internal/core/domain"
)

// JobRegistry is the in-process job table: created on StartJob, retained
// until externally purged. Exactly one pipeline writes a given job; any
// number of pollers read snapshots concurrently. The lock plus deep-copy
// snapshots guarantee a reader never observes a partially-applied update.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]*domain.Job
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[domain.JobID]*domain.Job)}
}

// Put registers a freshly created job.
func (r *JobRegistry) Put(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Update applies fn to the job under the write lock. Returns false when the
// job is unknown.
func (r *JobRegistry) Update(id domain.JobID, fn func(*domain.Job)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// Snapshot returns an immutable copy of the job's current state.
func (r *JobRegistry) Snapshot(id domain.JobID) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return job.Snapshot(), true
}

// List snapshots every known job.
func (r *JobRegistry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}

// Purge removes a job, typically after it has been archived.
func (r *JobRegistry) Purge(id domain.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}
