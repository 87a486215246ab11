// Package search finds documents by title and content. Meilisearch serves
// queries when reachable; PostgreSQL full-text search covers the rest.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Status    string  `json:"status,omitempty"`
	VersionID string  `json:"versionId,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status string // empty = any status
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

const (
	SourceMeili    = "meilisearch"
	SourcePostgres = "postgres"
)

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	Author    string `json:"author"`
	VersionID string `json:"versionId"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
