package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"nallo/api/internal/util"
)

// ErrContentExists is returned when a document already owns a content row.
var ErrContentExists = errors.New("document content already exists")

const uniqueViolation = "23505"

const contentColumns = `id, document_id, content, storage_key, created_at, updated_at`

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: dbNow}
}

// dbNow matches the microsecond precision of timestamptz so a returned row
// compares equal to the same row read back later.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateDocumentContent inserts the single content row for documentID. Both
// timestamps are taken from one clock reading so a fresh row always has
// updated_at equal to created_at.
func (s *PostgresStore) CreateDocumentContent(ctx context.Context, documentID, content string) (DocumentContent, error) {
	now := s.now()
	item := DocumentContent{
		ID:         util.NewID("dc"),
		DocumentID: documentID,
		Content:    content,
		StorageKey: StorageKey(documentID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_contents (id, document_id, content, storage_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.DocumentID, item.Content, item.StorageKey, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return DocumentContent{}, fmt.Errorf("insert document content %s: %w", documentID, ErrContentExists)
		}
		return DocumentContent{}, fmt.Errorf("insert document content: %w", err)
	}
	return item, nil
}

// GetDocumentContent returns sql.ErrNoRows when the document has no content.
func (s *PostgresStore) GetDocumentContent(ctx context.Context, documentID string) (DocumentContent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM document_contents WHERE document_id=$1`, documentID)
	return scanContent(row)
}

// UpdateDocumentContent replaces the content and bumps updated_at. It returns
// sql.ErrNoRows when there is no row to update.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, content string) (DocumentContent, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE document_contents
		SET content=$2, updated_at=$3
		WHERE document_id=$1
		RETURNING `+contentColumns,
		documentID, content, s.now())
	return scanContent(row)
}

// DeleteDocumentContent removes the document's row if any. Deleting content
// that does not exist is not an error; the bool reports whether a row went away.
func (s *PostgresStore) DeleteDocumentContent(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_contents WHERE document_id=$1`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document content rows: %w", err)
	}
	return affected > 0, nil
}

// SearchContent runs a full-text query over content, best match first.
func (s *PostgresStore) SearchContent(ctx context.Context, query string, limit int) ([]ContentMatch, error) {
	if strings.TrimSpace(query) == "" {
		return []ContentMatch{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id,
			ts_headline('english', content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM document_contents
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, updated_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()

	matches := make([]ContentMatch, 0)
	for rows.Next() {
		var match ContentMatch
		if err := rows.Scan(&match.DocumentID, &match.Snippet, &match.Rank); err != nil {
			return nil, fmt.Errorf("scan content match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content matches: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (DocumentContent, error) {
	var item DocumentContent
	err := row.Scan(&item.ID, &item.DocumentID, &item.Content, &item.StorageKey, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentContent{}, err
		}
		return DocumentContent{}, fmt.Errorf("scan document content: %w", err)
	}
	return item, nil
}
