package search

import (
	"context"

	"nallo/api/internal/logger"
)

type indexBackend interface {
	Searcher
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(documents []DocumentRecord) error
	DeleteDocument(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  indexBackend
	fallback Searcher
	run      func(func())
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	s := &Service{fallback: fallback, run: func(f func()) { go f() }}
	if meili != nil {
		s.primary = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		logger.Sugar.Warnw("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: SourcePostgres}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		logger.Sugar.Errorw("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: SourcePostgres}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourcePostgres}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.run(func() {
		if err := s.primary.IndexDocument(doc); err != nil {
			logger.Sugar.Warnw("index document", "document_id", doc.ID, "error", err)
		}
	})
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.run(func() {
		if err := s.primary.DeleteDocument(id); err != nil {
			logger.Sugar.Warnw("delete document from index", "document_id", id, "error", err)
		}
	})
}

// ReindexAll pushes every document to Meilisearch. The seeder calls it after
// loading a fixture.
func (s *Service) ReindexAll(documents []DocumentRecord) {
	if s.primary == nil || !s.primary.Healthy() || len(documents) == 0 {
		return
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		logger.Sugar.Warnw("reindex documents", "count", len(documents), "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
