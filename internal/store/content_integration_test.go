package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nallo/api/internal/util"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NALLO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NALLO_TEST_DATABASE_URL not set; skipping integration test")
	}
	return url
}

// TestContentLifecycleIntegration exercises the real schema: create, read,
// update, and a double delete against PostgreSQL.
func TestContentLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")))

	s := NewPostgresStore(db)
	documentID := util.NewID("doc")

	created, err := s.CreateDocumentContent(ctx, documentID, "# Integration")
	require.NoError(t, err)
	assert.Equal(t, StorageKey(documentID), created.StorageKey)
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	_, err = s.CreateDocumentContent(ctx, documentID, "duplicate")
	assert.True(t, errors.Is(err, ErrContentExists))

	fetched, err := s.GetDocumentContent(ctx, documentID)
	require.NoError(t, err)
	assert.Equal(t, "# Integration", fetched.Content)

	updated, err := s.UpdateDocumentContent(ctx, documentID, "# Integration v2")
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	removed, err := s.DeleteDocumentContent(ctx, documentID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteDocumentContent(ctx, documentID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetDocumentContent(ctx, documentID)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
