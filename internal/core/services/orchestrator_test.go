package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvhal/replagent/internal/adapters/sandbox"
	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// sliceSource serves a fixed in-memory corpus.
type sliceSource struct {
	docs []domain.RawDocument
}

func (s *sliceSource) Count(ctx context.Context) (int, error) { return len(s.docs), nil }

func (s *sliceSource) FetchBatch(ctx context.Context, offset, size int) ([]domain.RawDocument, error) {
	if offset >= len(s.docs) {
		return nil, nil
	}
	end := offset + size
	if end > len(s.docs) {
		end = len(s.docs)
	}
	return s.docs[offset:end], nil
}

func invoiceSource() *sliceSource {
	return &sliceSource{docs: []domain.RawDocument{
		{Locator: "Invoice_0001_Staples_COMPLIANT.txt", Content: "Amount: $80.00\nStatus: COMPLIANT"},
		{Locator: "Invoice_0002_Hilton_VIOLATION.txt", Content: "Amount: $2400.00\nStatus: VIOLATION"},
		{Locator: "Invoice_0003_Uber_COMPLIANT.txt", Content: "Amount: $45.00\nStatus: COMPLIANT"},
	}}
}

// memArchive is an in-memory JobArchive.
type memArchive struct {
	mu   sync.Mutex
	jobs map[domain.JobID]domain.Job
}

func newMemArchive() *memArchive {
	return &memArchive{jobs: make(map[domain.JobID]domain.Job)}
}

func (a *memArchive) SaveJob(_ context.Context, job domain.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = job
	return nil
}

func (a *memArchive) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (a *memArchive) ListJobs(_ context.Context) ([]domain.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Job, 0, len(a.jobs))
	for _, job := range a.jobs {
		out = append(out, job)
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, llm ports.LLMProvider) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWithArchive(t, llm, nil)
}

func newTestOrchestratorWithArchive(t *testing.T, llm ports.LLMProvider, archive ports.JobArchive) *Orchestrator {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sched := NewPipelineScheduler(testLogger(), SchedulerConfig{})
	sched.Start(ctx)

	ingestor := NewIngestor(testLogger(), IngestConfig{BatchSize: 10, Workers: 2})
	newExec := func() ports.Executor {
		return sandbox.NewStarlarkExecutor(testLogger(), sandbox.StarlarkConfig{Timeout: 5 * time.Second})
	}

	return NewOrchestrator(testLogger(), sched, ingestor, llm, newExec, NewEventBus(testLogger()), archive, OrchestratorConfig{})
}

func waitForTerminal(t *testing.T, orch *Orchestrator, id domain.JobID) domain.Job {
	t.Helper()

	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = orch.Status(context.Background(), id)
		return err == nil && job.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestStartJobValidation(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedLLM{})

	_, err := orch.StartJob(context.Background(), StartRequest{Query: "  ", Source: invoiceSource()})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = orch.StartJob(context.Background(), StartRequest{Query: "q"})
	assert.ErrorContains(t, err, "document source is required")

	_, err = orch.StartJob(context.Background(), StartRequest{Query: "q", Source: invoiceSource(), Scenario: "poetry"})
	assert.ErrorContains(t, err, "unknown scenario")
}

func TestStatusUnknownJob(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedLLM{})

	_, err := orch.Status(context.Background(), domain.NewJobID())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestAuditJobCompletes(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Scanning for violations.\n```starlark\nhits = search(\"VIOLATION\")\nprint(hits)\n```",
		"FINAL_ANSWER: Invoice_0002_Hilton_VIOLATION.txt exceeds the $1000 policy limit",
	}}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "which invoices violate policy?", Source: invoiceSource()})
	require.NoError(t, err)

	// StartJob returns before the pipeline runs; the first poll already sees
	// a well-formed job.
	job, err := orch.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusCompleted}, job.Status)

	job = waitForTerminal(t, orch, id)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Contains(t, *job.Result, "Invoice_0002")
	assert.Nil(t, job.Error)
	assert.NotEmpty(t, job.Logs)
}

func TestAuditJobWithSubQuery(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Delegating.\n```starlark\nanswer = llm_query(\"what is the amount?\", [context[1]])\nprint(answer)\n```",
		"FINAL_ANSWER: the nested loop reported $2400", // consumed by the nested loop
		"FINAL_ANSWER: the violating invoice is for $2400",
	}}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "how much is the violation?", Source: invoiceSource()})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Contains(t, *job.Result, "$2400")
	assert.Equal(t, 3, llm.calls, "the sub-query consumes its own model call")
}

func TestSearchScenarioSkipsTheModel(t *testing.T) {
	llm := &scriptedLLM{}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{
		Query:    "VIOLATION",
		Source:   invoiceSource(),
		Scenario: domain.ScenarioSearch,
	})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Contains(t, *job.Result, "Found 1 matches")
	assert.Contains(t, *job.Result, "Invoice_0002_Hilton_VIOLATION.txt")
	assert.Zero(t, llm.calls)
}

func TestJobFailsOnFatalModelError(t *testing.T) {
	llm := &scriptedLLM{errs: []error{&domain.ModelError{StatusCode: 401, Detail: "bad key"}}}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "q", Source: invoiceSource()})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "status 401")
	assert.Nil(t, job.Result)
}

func TestJobFailsOnExhaustedIterations(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```starlark\nprint(1)\n```",
		"```starlark\nprint(2)\n```",
	}}
	orch := newTestOrchestrator(t, llm)
	orch.cfg.Loop.MaxIterations = 2

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "q", Source: invoiceSource()})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, *job.Error, "max iterations")
}

func TestEmptyCorpusRunsGeneralChat(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"FINAL_ANSWER: I answered from general knowledge"}}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "what is 2+2?", Source: &sliceSource{}})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Contains(t, *job.Result, "general knowledge")
}

func TestSnapshotsAreStableAcrossPolls(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"FINAL_ANSWER: done"}}
	orch := newTestOrchestrator(t, llm)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "q", Source: invoiceSource()})
	require.NoError(t, err)

	waitForTerminal(t, orch, id)

	first, err := orch.Status(context.Background(), id)
	require.NoError(t, err)
	second, err := orch.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, second, "terminal snapshots are idempotent")
}

func TestArchivedJobLeavesRegistryButStaysVisible(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"FINAL_ANSWER: done"}}
	archive := newMemArchive()
	orch := newTestOrchestratorWithArchive(t, llm, archive)

	id, err := orch.StartJob(context.Background(), StartRequest{Query: "q", Source: invoiceSource()})
	require.NoError(t, err)

	job := waitForTerminal(t, orch, id)
	require.Equal(t, domain.JobStatusCompleted, job.Status)

	require.Eventually(t, func() bool {
		_, held := orch.registry.Snapshot(id)
		return !held
	}, 5*time.Second, 10*time.Millisecond, "terminal job should be purged once archived")

	status, err := orch.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, status.Status)

	listed := orch.Jobs(context.Background())
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
}
