// Package query answers dataset queries and records usage for statistics.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knowledgenet/datagate/internal/models"
)

// Engine analyzes a dataset's content against a query. It is a black box to
// the gateway: a model-backed implementation satisfies the same contract as
// the local one.
type Engine interface {
	Analyze(ctx context.Context, contentHash, queryText string, tags []string) (*models.AnalysisResult, error)
}

// TagEngine is the default local Engine. It intersects query terms with the
// dataset's tags and produces a deterministic summary; no content leaves the
// gateway.
type TagEngine struct{}

// NewTagEngine creates the local analysis engine.
func NewTagEngine() *TagEngine {
	return &TagEngine{}
}

// Analyze matches query terms against dataset tags.
func (e *TagEngine) Analyze(ctx context.Context, contentHash, queryText string, tags []string) (*models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	terms := strings.Fields(strings.ToLower(queryText))
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[strings.ToLower(tag)] = true
	}

	var matched []string
	for _, term := range terms {
		if tagSet[term] {
			matched = append(matched, term)
		}
	}

	var summary string
	switch {
	case len(terms) == 0:
		summary = "empty query; no analysis performed"
	case len(matched) == 0:
		summary = fmt.Sprintf("no query terms matched the dataset's %d tags", len(tags))
	default:
		summary = fmt.Sprintf("%d of %d query terms matched dataset tags: %s",
			len(matched), len(terms), strings.Join(matched, ", "))
	}

	return &models.AnalysisResult{
		Query:           queryText,
		Summary:         summary,
		MatchedTags:     matched,
		QueryTimeMillis: time.Since(start).Milliseconds(),
	}, nil
}
