package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arvhal/replagent/internal/core/domain"
)

const (
	searchMaxResults = 50
	searchMaxBytes   = 20_000
)

// SearchDocuments runs a case-insensitive regex over the corpus and returns
// "locator:line: snippet" matches, capped at searchMaxResults. It backs both
// the sandbox `search` binding and the legacy search scenario. An invalid
// pattern is reported as a single result line, not an error, so sandboxed
// code sees something it can correct.
func SearchDocuments(docs []domain.Document, pattern string) []string {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return []string{fmt.Sprintf("invalid regex %q: %v", pattern, err)}
	}

	var matches []string
	for _, doc := range docs {
		content := doc.Content
		if len(content) > searchMaxBytes {
			content = content[:searchMaxBytes]
		}
		for i, line := range strings.Split(content, "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", doc.Locator, i+1, strings.TrimSpace(line)))
				if len(matches) >= searchMaxResults {
					return matches
				}
			}
		}
	}
	return matches
}
