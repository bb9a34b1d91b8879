package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arvhal/replagent/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig bounds how many pipelines run at once.
type SchedulerConfig struct {
	MaxConcurrentPipelines int64
	QueueDepth             int
}

// pipelineTask is one scheduled unit: the whole ingest-then-loop pipeline
// for a single job.
type pipelineTask struct {
	jobID domain.JobID
	run   func(ctx context.Context)
}

// PipelineScheduler decouples job submission from execution: StartJob
// enqueues and returns immediately, a consumer goroutine launches pipelines
// up to the configured width. One task == one job's pipeline.
type PipelineScheduler struct {
	logger       *slog.Logger
	pendingQueue chan pipelineTask
	semaphore    *semaphore.Weighted
}

var ErrQueueFull = errors.New("pipeline queue full")

func NewPipelineScheduler(logger *slog.Logger, cfg SchedulerConfig) *PipelineScheduler {
	limit := cfg.MaxConcurrentPipelines
	if limit <= 0 {
		limit = 8
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 100
	}

	return &PipelineScheduler{
		logger:       logger,
		pendingQueue: make(chan pipelineTask, depth),
		semaphore:    semaphore.NewWeighted(limit),
	}
}

// Submit enqueues a pipeline without waiting for capacity.
func (s *PipelineScheduler) Submit(task pipelineTask) error {
	select {
	case s.pendingQueue <- task:
		s.logger.Info("pipeline submitted", "job_id", string(task.jobID))
		return nil
	default:
		return ErrQueueFull
	}
}

// Start consumes the queue until ctx is cancelled. Each pipeline runs in its
// own goroutine holding one semaphore unit, so the consumer never blocks on
// pipeline progress.
func (s *PipelineScheduler) Start(ctx context.Context) {
	s.logger.Info("starting pipeline scheduler")

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping pipeline scheduler")
				return
			case task := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					s.logger.Error("failed to acquire pipeline slot", "error", err)
					return
				}

				go func(t pipelineTask) {
					defer s.semaphore.Release(1)
					t.run(ctx)
				}(task)
			}
		}
	}()
}
