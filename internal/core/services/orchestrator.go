package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// OrchestratorConfig carries the per-job budgets the orchestrator hands to
// the stages it launches.
type OrchestratorConfig struct {
	Loop                LoopConfig
	SubQuery            SubQueryConfig
	DefaultMaxDocuments int
}

// StartRequest describes one job submission.
type StartRequest struct {
	Query        string
	Source       ports.DocumentSource
	MaxDocuments int
	Scenario     domain.Scenario
}

// Orchestrator owns the job state machine. StartJob allocates a job and
// schedules its pipeline as detached work; Status serves point-in-time
// snapshots without ever blocking on pipeline progress. Every failure a
// pipeline can produce resolves to a failed job — nothing propagates past
// this boundary.
type Orchestrator struct {
	logger   *slog.Logger
	registry *JobRegistry
	sched    *PipelineScheduler
	ingestor *Ingestor
	llm      ports.LLMProvider
	newExec  func() ports.Executor
	bus      *EventBus
	archive  ports.JobArchive // optional, nil disables archival
	cfg      OrchestratorConfig
}

func NewOrchestrator(
	logger *slog.Logger,
	sched *PipelineScheduler,
	ingestor *Ingestor,
	llm ports.LLMProvider,
	newExec func() ports.Executor,
	bus *EventBus,
	archive ports.JobArchive,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.DefaultMaxDocuments <= 0 {
		cfg.DefaultMaxDocuments = 1000
	}
	return &Orchestrator{
		logger:   logger,
		registry: NewJobRegistry(),
		sched:    sched,
		ingestor: ingestor,
		llm:      llm,
		newExec:  newExec,
		bus:      bus,
		archive:  archive,
		cfg:      cfg,
	}
}

// StartJob allocates a queued job and returns its ID immediately; the
// pipeline runs detached. A scheduling failure still yields a valid job ID —
// the job is just already failed when the caller first polls it.
func (o *Orchestrator) StartJob(_ context.Context, req StartRequest) (domain.JobID, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", domain.ErrEmptyQuery
	}
	if req.Source == nil {
		return "", errors.New("document source is required")
	}
	switch req.Scenario {
	case "":
		req.Scenario = domain.ScenarioAudit
	case domain.ScenarioAudit, domain.ScenarioSearch:
	default:
		return "", fmt.Errorf("unknown scenario %q", req.Scenario)
	}

	job := domain.NewJob()
	o.registry.Put(job)
	o.logger.Info("job created", "job_id", string(job.ID), "scenario", string(req.Scenario))

	task := pipelineTask{
		jobID: job.ID,
		run: func(ctx context.Context) {
			o.runPipeline(ctx, job.ID, req)
		},
	}
	if err := o.sched.Submit(task); err != nil {
		o.fail(job.ID, "could not schedule pipeline: "+err.Error())
	}

	return job.ID, nil
}

// Status returns an immutable snapshot of the job, falling back to the
// archive for jobs purged from the registry.
func (o *Orchestrator) Status(ctx context.Context, id domain.JobID) (domain.Job, error) {
	if snap, ok := o.registry.Snapshot(id); ok {
		return snap, nil
	}
	if o.archive != nil {
		job, err := o.archive.GetJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrJobNotFound) {
			o.logger.Warn("archive lookup failed", "job_id", string(id), "error", err)
		}
	}
	return domain.Job{}, domain.ErrJobNotFound
}

// Jobs lists every known job: live ones from the registry plus archived
// terminal ones the registry has already let go of.
func (o *Orchestrator) Jobs(ctx context.Context) []domain.Job {
	jobs := o.registry.List()
	if o.archive == nil {
		return jobs
	}
	seen := make(map[domain.JobID]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
	}
	archived, err := o.archive.ListJobs(ctx)
	if err != nil {
		o.logger.Warn("archive listing failed", "error", err)
		return jobs
	}
	for _, j := range archived {
		if !seen[j.ID] {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// runPipeline is the detached unit of work for one job: ingest, then either
// the agent loop or the legacy search fast path. All failures become a
// terminal failed job; a panicking stage must not take the process down.
func (o *Orchestrator) runPipeline(ctx context.Context, id domain.JobID, req StartRequest) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panicked", "job_id", string(id), "panic", r)
			o.fail(id, fmt.Sprintf("internal pipeline error: %v", r))
		}
	}()

	o.registry.Update(id, func(j *domain.Job) { j.Start() })
	o.publish(id)

	limit := req.MaxDocuments
	if limit <= 0 {
		limit = o.cfg.DefaultMaxDocuments
	}

	// Ingestion owns the 5–40% progress band.
	docs, err := o.ingestor.Ingest(ctx, req.Source, limit, func(msg string, done, total int) {
		pct := 5
		if total > 0 {
			pct = 5 + 35*done/total
		}
		o.update(id, msg, pct)
	})
	if err != nil {
		o.fail(id, "ingestion failed: "+err.Error())
		return
	}
	o.update(id, fmt.Sprintf("ingestion complete: %d documents", len(docs)), 40)

	if req.Scenario == domain.ScenarioSearch {
		o.runSearch(id, req.Query, docs)
		return
	}

	// The loop owns 40–95%.
	loop := NewAgentLoop(o.logger, o.llm, o.newExec(), o.cfg.Loop)
	maxIters := o.cfg.Loop.withDefaults().MaxIterations
	result, err := loop.Run(ctx, req.Query, o.environment(docs), func(iteration int, msg string) {
		pct := 40 + 55*iteration/maxIters
		if pct > 95 {
			pct = 95
		}
		o.update(id, msg, pct)
	})
	if err != nil {
		o.fail(id, err.Error())
		return
	}

	o.update(id, fmt.Sprintf("answer produced after %d iterations", result.Iterations), 95)
	o.complete(id, result.Answer)
}

// runSearch is the model-free legacy fast path: a direct regex sweep over
// the ingested corpus.
func (o *Orchestrator) runSearch(id domain.JobID, query string, docs []domain.Document) {
	o.update(id, "running corpus search: "+query, 60)
	matches := SearchDocuments(docs, query)

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matches for %q", len(matches), query)
	for _, m := range matches {
		b.WriteString("\n")
		b.WriteString(m)
	}
	o.complete(id, b.String())
}

// environment builds the fixed binding set one job's sandbox runs against.
func (o *Orchestrator) environment(docs []domain.Document) ports.Environment {
	return ports.Environment{
		Documents: docs,
		SubQuery:  NewSubQuery(o.logger, o.llm, o.newExec, o.cfg.SubQuery),
		Search: func(pattern string) ([]string, error) {
			return SearchDocuments(docs, pattern), nil
		},
	}
}

func (o *Orchestrator) update(id domain.JobID, message string, percent int) {
	o.registry.Update(id, func(j *domain.Job) { j.Apply(message, percent) })
	o.publish(id)
}

func (o *Orchestrator) complete(id domain.JobID, result string) {
	o.registry.Update(id, func(j *domain.Job) { j.Complete(result) })
	o.logger.Info("job completed", "job_id", string(id))
	o.publish(id)
	o.archiveJob(id)
}

func (o *Orchestrator) fail(id domain.JobID, detail string) {
	o.registry.Update(id, func(j *domain.Job) { j.Fail(detail) })
	o.logger.Warn("job failed", "job_id", string(id), "error", detail)
	o.publish(id)
	o.archiveJob(id)
}

// publish forwards the latest snapshot to the event bus. Fire-and-forget:
// bus failures never reach the pipeline.
func (o *Orchestrator) publish(id domain.JobID) {
	if o.bus == nil {
		return
	}
	snap, ok := o.registry.Snapshot(id)
	if !ok {
		return
	}
	o.bus.Publish(Event{
		JobID:   id,
		Type:    EventTypeStatus,
		Status:  snap.Status,
		Message: snap.Message,
		Percent: snap.Progress,
	})
}

func (o *Orchestrator) archiveJob(id domain.JobID) {
	if o.archive == nil {
		return
	}
	snap, ok := o.registry.Snapshot(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveJob(ctx, snap); err != nil {
		o.logger.Warn("failed to archive job", "job_id", string(id), "error", err)
		return
	}
	// Once the archive holds the terminal record, the in-memory copy is
	// redundant; Status and Jobs fall through to the archive.
	o.registry.Purge(id)
}
