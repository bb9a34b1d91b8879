// Package source provides document source adapters: a fixed in-memory
// corpus, a filesystem directory reader, and a deterministic invoice
// generator for demos and tests.
package source

import (
	"context"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// InlineSource serves a corpus held in memory. Useful for small submissions
// carried in the request body and for tests.
type InlineSource struct {
	docs []domain.RawDocument
}

func NewInlineSource(docs []domain.RawDocument) *InlineSource {
	return &InlineSource{docs: docs}
}

var _ ports.DocumentSource = (*InlineSource)(nil)

func (s *InlineSource) Count(ctx context.Context) (int, error) {
	return len(s.docs), nil
}

func (s *InlineSource) FetchBatch(ctx context.Context, offset, size int) ([]domain.RawDocument, error) {
	if offset >= len(s.docs) {
		return nil, nil
	}
	end := offset + size
	if end > len(s.docs) {
		end = len(s.docs)
	}
	batch := make([]domain.RawDocument, end-offset)
	copy(batch, s.docs[offset:end])
	return batch, nil
}
