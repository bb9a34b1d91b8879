package ports

import (
	"context"

	"github.com/arvhal/replagent/internal/core/domain"
)

// DocumentSource abstracts where raw documents come from (object storage,
// local directory, inline payload). Batch fetches may run concurrently.
type DocumentSource interface {
	// Count returns the total number of documents the source can yield.
	Count(ctx context.Context) (int, error)

	// FetchBatch returns up to size documents starting at offset.
	FetchBatch(ctx context.Context, offset, size int) ([]domain.RawDocument, error)
}

// LLMProvider abstracts the language-model capability. Implementations must
// classify failures via domain.ModelError so the loop can tell transient
// errors (retry) from fatal ones (fail the job).
type LLMProvider interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// SubQueryFunc is the recursive capability exposed to sandboxed code: answer
// prompt against a caller-chosen subset of document texts.
type SubQueryFunc func(ctx context.Context, prompt string, docs []string) (string, error)

// SearchFunc is the read-only corpus search tool exposed to sandboxed code.
type SearchFunc func(pattern string) ([]string, error)

// Environment is the fixed binding set a snippet executes against. The
// document slice is shared read-only; callables are the only escape hatches.
type Environment struct {
	Documents []domain.Document
	SubQuery  SubQueryFunc
	Search    SearchFunc
}

// Executor runs one model-generated snippet against an environment. Snippet
// faults (runtime errors, timeouts, resource limits) are reported inside the
// ExecutionResult; the Go error is reserved for infrastructure failures
// (sandbox could not be set up at all).
//
// An Executor instance lives for one agent-loop invocation: state the snippet
// creates persists across Run calls within that loop and is reset per job.
type Executor interface {
	Run(ctx context.Context, code string, env Environment) (domain.ExecutionResult, error)

	// Language names the snippet language the sandbox interprets, so the
	// loop can advertise it in the system frame.
	Language() string
}

// JobArchive persists terminal jobs for inspection after the in-memory
// registry forgets them.
type JobArchive interface {
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
}
