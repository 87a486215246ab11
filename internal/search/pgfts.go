package search

import (
	"context"
	"errors"
	"fmt"

	"nallo/api/internal/graph"
	"nallo/api/internal/store"
)

// ContentSearcher runs full-text queries over stored content.
type ContentSearcher interface {
	SearchContent(ctx context.Context, query string, limit int) ([]store.ContentMatch, error)
}

// DocumentLookup resolves document metadata for a content match.
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (graph.Document, error)
}

// PgFTS implements Searcher on PostgreSQL full-text search, joining each
// content match with its graph metadata.
type PgFTS struct {
	content ContentSearcher
	docs    DocumentLookup
}

func NewPgFTS(content ContentSearcher, docs DocumentLookup) *PgFTS {
	return &PgFTS{content: content, docs: docs}
}

// Healthy always returns true; a PostgreSQL outage surfaces as a Search error.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := normalizeLimit(q.Limit)
	// Over-fetch so the status filter and offset still fill a page.
	matches, err := p.content.SearchContent(ctx, q.Text, (limit+q.Offset)*2)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, match := range matches {
		doc, err := p.docs.GetDocument(ctx, match.DocumentID)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("pgfts lookup %s: %w", match.DocumentID, err)
		}
		if q.Status != "" && doc.Status != q.Status {
			continue
		}
		results = append(results, Result{
			ID:        doc.ID,
			Title:     doc.Title,
			Snippet:   match.Snippet,
			Status:    doc.Status,
			VersionID: doc.VersionID,
			Score:     match.Rank,
		})
	}

	total := len(results)
	if q.Offset >= len(results) {
		return []Result{}, total, nil
	}
	results = results[q.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}
