package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// DirSource serves .txt files from a directory as documents. The listing is
// sorted by name so offsets are stable across FetchBatch calls.
type DirSource struct {
	root  string
	names []string
}

func NewDirSource(root string) (*DirSource, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory %q: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return &DirSource{root: root, names: names}, nil
}

var _ ports.DocumentSource = (*DirSource)(nil)

func (s *DirSource) Count(ctx context.Context) (int, error) {
	return len(s.names), nil
}

func (s *DirSource) FetchBatch(ctx context.Context, offset, size int) ([]domain.RawDocument, error) {
	if offset >= len(s.names) {
		return nil, nil
	}
	end := offset + size
	if end > len(s.names) {
		end = len(s.names)
	}

	batch := make([]domain.RawDocument, 0, end-offset)
	for _, name := range s.names[offset:end] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.root, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		batch = append(batch, domain.RawDocument{Locator: name, Content: string(data)})
	}
	return batch, nil
}
