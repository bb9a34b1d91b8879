// Package sandbox provides the executors that run model-generated snippets
// against the job's environment bindings. Two technologies back the same
// port: an in-process Starlark interpreter (default) and a Docker-based
// out-of-process Python runner.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// StarlarkConfig bounds one snippet execution.
type StarlarkConfig struct {
	Timeout  time.Duration // wall clock per Run
	MaxSteps uint64        // interpreter step budget per Run
}

const starlarkTimeoutReason = "wall-clock limit exceeded"

// StarlarkExecutor interprets snippets in-process. Starlark is sandboxed by
// construction: no filesystem, network, or host access exists unless a
// builtin grants it, so the only escape hatches are the injected search and
// llm_query callables. Globals defined by snippets persist across Run calls
// for the lifetime of one executor, which lives for one agent-loop
// invocation and is reset per job.
type StarlarkExecutor struct {
	logger  *slog.Logger
	cfg     StarlarkConfig
	globals starlark.StringDict
}

func NewStarlarkExecutor(logger *slog.Logger, cfg StarlarkConfig) *StarlarkExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 10_000_000
	}
	return &StarlarkExecutor{
		logger:  logger,
		cfg:     cfg,
		globals: make(starlark.StringDict),
	}
}

var _ ports.Executor = (*StarlarkExecutor)(nil)

func (e *StarlarkExecutor) Language() string { return "starlark" }

// Run executes one snippet. Snippet faults come back inside the
// ExecutionResult; the Go error stays nil unless the sandbox itself breaks.
func (e *StarlarkExecutor) Run(ctx context.Context, code string, env ports.Environment) (domain.ExecutionResult, error) {
	var out strings.Builder

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
	}
	thread.SetMaxExecutionSteps(e.cfg.MaxSteps)

	timer := time.AfterFunc(e.cfg.Timeout, func() {
		thread.Cancel(starlarkTimeoutReason)
	})
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("context cancelled")
		case <-watchDone:
		}
	}()

	predeclared := e.predeclared(ctx, env)
	for name, value := range e.globals {
		if _, reserved := predeclared[name]; !reserved {
			predeclared[name] = value
		}
	}

	globals, err := starlark.ExecFile(thread, "snippet.star", code, predeclared)

	// ExecFile returns the partial global dict even when the snippet faults,
	// so bindings made before the failing line survive into the next Run,
	// matching REPL semantics.
	for name, value := range globals {
		e.globals[name] = value
	}

	if err != nil {
		return domain.ExecutionResult{
			Output:    out.String(),
			ErrorText: starlarkErrorDetail(err),
			Success:   false,
			ErrorKind: classifyStarlarkError(err),
		}, nil
	}

	return domain.ExecutionResult{Output: out.String(), Success: true}, nil
}

// predeclared builds the fixed binding set for one execution: the read-only
// corpus plus the injected tool callables.
func (e *StarlarkExecutor) predeclared(ctx context.Context, env ports.Environment) starlark.StringDict {
	contents := make([]starlark.Value, len(env.Documents))
	ids := make([]starlark.Value, len(env.Documents))
	for i, doc := range env.Documents {
		contents[i] = starlark.String(doc.Content)
		ids[i] = starlark.String(string(doc.ID))
	}

	search := starlark.NewBuiltin("search", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pattern string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern); err != nil {
			return nil, err
		}
		if env.Search == nil {
			return starlark.NewList(nil), nil
		}
		matches, err := env.Search(pattern)
		if err != nil {
			return nil, err
		}
		values := make([]starlark.Value, len(matches))
		for i, m := range matches {
			values[i] = starlark.String(m)
		}
		return starlark.NewList(values), nil
	})

	llmQuery := starlark.NewBuiltin("llm_query", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prompt string
		var docsVal starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "prompt", &prompt, "docs?", &docsVal); err != nil {
			return nil, err
		}
		if env.SubQuery == nil {
			return starlark.String("[sub-query unavailable in this deployment]"), nil
		}
		answer, err := env.SubQuery(ctx, prompt, docSubset(docsVal, env.Documents))
		if err != nil {
			return nil, err
		}
		return starlark.String(answer), nil
	})

	return starlark.StringDict{
		"context":   starlark.NewList(contents),
		"doc_ids":   starlark.NewList(ids),
		"search":    search,
		"llm_query": llmQuery,
	}
}

// docSubset converts the snippet's docs argument into plain strings: absent
// or None means the whole corpus, a string is a single document, a list is
// taken element-wise.
func docSubset(v starlark.Value, docs []domain.Document) []string {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		all := make([]string, len(docs))
		for i, d := range docs {
			all[i] = d.Content
		}
		return all
	case starlark.String:
		return []string{string(t)}
	case *starlark.List:
		var out []string
		it := t.Iterate()
		defer it.Done()
		var x starlark.Value
		for it.Next(&x) {
			if s, ok := starlark.AsString(x); ok {
				out = append(out, s)
			} else {
				out = append(out, x.String())
			}
		}
		return out
	default:
		return []string{v.String()}
	}
}

func classifyStarlarkError(err error) domain.ExecErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "too many steps"):
		return domain.ExecErrResourceLimit
	case strings.Contains(msg, starlarkTimeoutReason), strings.Contains(msg, "context cancelled"):
		return domain.ExecErrTimeout
	default:
		return domain.ExecErrRuntimeFault
	}
}

func starlarkErrorDetail(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
