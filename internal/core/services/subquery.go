package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// SubQueryConfig bounds the recursive sub-query capability.
type SubQueryConfig struct {
	MaxDepth      int // nesting levels allowed below the root loop
	MaxIterations int // iteration budget per nested loop, independent of the parent's
}

func (c SubQueryConfig) withDefaults() SubQueryConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 1
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3 // sub-queries are focused, fewer iterations
	}
	return c
}

// NewSubQuery builds the llm_query capability bound into the sandbox: a
// genuine nested agent-loop invocation over a caller-chosen document subset.
// Each nesting level gets a fresh executor so sandbox state never leaks
// between parent and child. Failures come back as text, not errors — the
// calling snippet observes them and the parent model can route around them.
func NewSubQuery(logger *slog.Logger, llm ports.LLMProvider, newExec func() ports.Executor, cfg SubQueryConfig) ports.SubQueryFunc {
	cfg = cfg.withDefaults()
	return subQueryAt(logger, llm, newExec, cfg, 0)
}

func subQueryAt(logger *slog.Logger, llm ports.LLMProvider, newExec func() ports.Executor, cfg SubQueryConfig, depth int) ports.SubQueryFunc {
	return func(ctx context.Context, prompt string, docTexts []string) (string, error) {
		if depth >= cfg.MaxDepth {
			return "recursion depth exceeded: solve this without further delegation", nil
		}

		docs := make([]domain.Document, len(docTexts))
		for i, text := range docTexts {
			locator := fmt.Sprintf("subset-%d", i)
			docs[i] = domain.Document{
				ID:      domain.DocumentID(locator),
				Locator: locator,
				Content: text,
			}
		}

		env := ports.Environment{
			Documents: docs,
			SubQuery:  subQueryAt(logger, llm, newExec, cfg, depth+1),
			Search: func(pattern string) ([]string, error) {
				return SearchDocuments(docs, pattern), nil
			},
		}

		logger.Info("sub-query started", "depth", depth+1, "docs", len(docs), "prompt", firstLine(prompt, 80))

		loop := NewAgentLoop(logger, llm, newExec(), LoopConfig{MaxIterations: cfg.MaxIterations})
		result, err := loop.Run(ctx, prompt, env, nil)
		if err != nil {
			logger.Warn("sub-query failed", "depth", depth+1, "error", err)
			return "sub-query failed: " + err.Error(), nil
		}
		return result.Answer, nil
	}
}
