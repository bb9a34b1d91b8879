package domain

import (
	"errors"
	"fmt"
)

// ErrEmptySource is returned by ingestion when a non-empty source yields zero
// documents (all batch fetches failed).
var ErrEmptySource = errors.New("ingestion produced no documents")

// ErrEmptyQuery rejects job submissions without a query.
var ErrEmptyQuery = errors.New("query must not be empty")

type LoopErrorKind string

const (
	LoopMaxIterations      LoopErrorKind = "MAX_ITERATIONS_EXCEEDED"
	LoopMalformedResponses LoopErrorKind = "MALFORMED_RESPONSE_EXCEEDED"
)

// LoopError is a terminal agent-loop outcome distinct from an execution
// failure: the loop ran to its budget without producing a final answer.
type LoopError struct {
	Kind       LoopErrorKind
	Iterations int
}

func (e *LoopError) Error() string {
	switch e.Kind {
	case LoopMalformedResponses:
		return fmt.Sprintf("model produced %d consecutive malformed responses", e.Iterations)
	default:
		return fmt.Sprintf("max iterations (%d) reached without final answer", e.Iterations)
	}
}

// ModelError wraps a failed model invocation. Transient errors are retried
// with backoff inside the loop; fatal ones (auth, bad deployment) fail the
// job immediately.
type ModelError struct {
	StatusCode int
	Transient  bool
	Detail     string
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model invocation failed (status %d): %s", e.StatusCode, e.Detail)
	}
	return "model invocation failed: " + e.Detail
}

// IsTransientModelError reports whether err is a retryable model failure.
func IsTransientModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Transient
}
