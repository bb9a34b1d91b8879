package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// IngestConfig tunes the concurrent fetch stage.
type IngestConfig struct {
	BatchSize int
	Workers   int
}

// IngestProgressFunc receives one line per completed (or failed) batch along
// with the completed/total batch counters the caller maps to a percentage.
type IngestProgressFunc func(message string, completedBatches, totalBatches int)

// Ingestor fetches a document source in concurrent batches and assembles the
// read-only corpus the agent loop analyses.
type Ingestor struct {
	logger *slog.Logger
	cfg    IngestConfig
}

func NewIngestor(logger *slog.Logger, cfg IngestConfig) *Ingestor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Ingestor{logger: logger, cfg: cfg}
}

// Ingest fetches up to limit documents (limit <= 0 means everything). Batches
// run concurrently up to the configured width; a failed batch is a warning,
// not an abort. Ingest returns domain.ErrEmptySource only when the source
// claimed documents and none were retrieved. A source reporting zero
// documents yields an empty corpus without error (general-chat mode).
//
// The returned order follows batch offsets for display stability, but callers
// must not rely on it: concurrent completion means no source-order guarantee.
func (in *Ingestor) Ingest(ctx context.Context, src ports.DocumentSource, limit int, progress IngestProgressFunc) ([]domain.Document, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}

	total, err := src.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count source documents: %w", err)
	}
	if total == 0 {
		progress("source reported zero documents", 0, 0)
		return nil, nil
	}

	capTotal := total
	if limit > 0 && limit < total {
		capTotal = limit
		progress(fmt.Sprintf("document cap reached: ingesting %d of %d available", capTotal, total), 0, 0)
	}

	batches := (capTotal + in.cfg.BatchSize - 1) / in.cfg.BatchSize
	progress(fmt.Sprintf("ingesting %d documents in %d batches (%d workers)", capTotal, batches, in.cfg.Workers), 0, batches)

	var (
		sem       = semaphore.NewWeighted(int64(in.cfg.Workers))
		wg        sync.WaitGroup
		mu        sync.Mutex
		docs      []domain.Document
		warnings  int
		completed int32
	)

	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			offset := batch * in.cfg.BatchSize
			size := in.cfg.BatchSize
			if offset+size > capTotal {
				size = capTotal - offset
			}
			worker := fmt.Sprintf("worker-%d", batch%in.cfg.Workers+1)

			raw, err := src.FetchBatch(ctx, offset, size)
			if err != nil {
				mu.Lock()
				warnings++
				mu.Unlock()
				in.logger.Warn("batch fetch failed", "batch", batch, "worker", worker, "error", err)
				progress(fmt.Sprintf("warning: batch %d failed (%s): %v", batch, worker, err), int(atomic.LoadInt32(&completed)), batches)
				return
			}

			mu.Lock()
			for _, r := range raw {
				docs = append(docs, domain.Document{
					ID:        domain.DocumentID(r.Locator),
					Locator:   r.Locator,
					Content:   r.Content,
					Batch:     batch,
					WorkerTag: worker,
				})
			}
			mu.Unlock()

			done := atomic.AddInt32(&completed, 1)
			progress(fmt.Sprintf("batch %d/%d fetched by %s (%d docs)", batch+1, batches, worker, len(raw)), int(done), batches)
		}(b)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion cancelled: %w", err)
	}

	if len(docs) == 0 {
		return nil, domain.ErrEmptySource
	}

	if warnings > 0 {
		progress(fmt.Sprintf("ingestion finished with %d failed batches (%d docs retrieved)", warnings, len(docs)), batches, batches)
	}

	// Stable display order only — batches complete in arbitrary order.
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Batch != docs[j].Batch {
			return docs[i].Batch < docs[j].Batch
		}
		return docs[i].Locator < docs[j].Locator
	})

	return docs, nil
}
