package metastore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/notebookd/internal/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	store, err := metastore.NewStore(filepath.Join(t.TempDir(), "meta.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateNotebook(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Research", "ml papers")
	require.NoError(t, err)
	assert.NotEmpty(t, nb.ID)
	assert.Equal(t, "u_1", nb.UserID)
	assert.Equal(t, "Research", nb.Title)
	assert.Equal(t, 0, nb.DocumentCount)

	// Generated ids must be usable as collection name material.
	assert.Regexp(t, `^nb_[a-f0-9]{32}$`, nb.ID)

	got, err := store.GetNotebook(ctx, nb.ID, "u_1")
	require.NoError(t, err)
	assert.Equal(t, "ml papers", got.Description)
}

func TestCreateNotebook_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateNotebook(ctx, "", "Research", "")
	assert.Error(t, err)

	_, err = store.CreateNotebook(ctx, "u_1", "", "")
	assert.Error(t, err)
}

func TestGetNotebook_Ownership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Mine", "")
	require.NoError(t, err)

	got, err := store.GetNotebook(ctx, nb.ID, "u_1")
	require.NoError(t, err)
	assert.Equal(t, nb.ID, got.ID)

	// Someone else's notebook is denied, not hidden as missing.
	_, err = store.GetNotebook(ctx, nb.ID, "u_2")
	assert.ErrorIs(t, err, metastore.ErrAccessDenied)

	_, err = store.GetNotebook(ctx, "nb_missing", "u_1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestListNotebooks_PerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateNotebook(ctx, "u_1", "First", "")
	require.NoError(t, err)
	_, err = store.CreateNotebook(ctx, "u_1", "Second", "")
	require.NoError(t, err)
	_, err = store.CreateNotebook(ctx, "u_2", "Other", "")
	require.NoError(t, err)

	mine, err := store.ListNotebooks(ctx, "u_1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := store.ListNotebooks(ctx, "u_2")
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	none, err := store.ListNotebooks(ctx, "u_3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteNotebook(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Doomed", "")
	require.NoError(t, err)
	_, err = store.CreateDocument(ctx, nb.ID, "u_1", "doc")
	require.NoError(t, err)

	// Wrong owner cannot delete.
	err = store.DeleteNotebook(ctx, nb.ID, "u_2")
	assert.ErrorIs(t, err, metastore.ErrAccessDenied)

	require.NoError(t, store.DeleteNotebook(ctx, nb.ID, "u_1"))

	_, err = store.GetNotebook(ctx, nb.ID, "u_1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	// Documents went with it.
	_, err = store.ListDocuments(ctx, nb.ID, "u_1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestCreateDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Research", "")
	require.NoError(t, err)

	doc, err := store.CreateDocument(ctx, nb.ID, "u_1", "Paper")
	require.NoError(t, err)
	assert.Regexp(t, `^doc_[a-f0-9]{32}$`, doc.ID)
	assert.Equal(t, nb.ID, doc.NotebookID)
	assert.Equal(t, "Paper", doc.Title)
	assert.Equal(t, 0, doc.ChunkCount)

	// Document count tracked on the notebook.
	got, err := store.GetNotebook(ctx, nb.ID, "u_1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)
}

func TestCreateDocument_DefaultTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Research", "")
	require.NoError(t, err)

	doc, err := store.CreateDocument(ctx, nb.ID, "u_1", "")
	require.NoError(t, err)
	assert.Equal(t, "Untitled", doc.Title)
}

func TestCreateDocument_WrongOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Research", "")
	require.NoError(t, err)

	_, err = store.CreateDocument(ctx, nb.ID, "u_2", "Paper")
	assert.ErrorIs(t, err, metastore.ErrAccessDenied)
}

func TestUpdateChunkCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	nb, err := store.CreateNotebook(ctx, "u_1", "Research", "")
	require.NoError(t, err)
	doc, err := store.CreateDocument(ctx, nb.ID, "u_1", "Paper")
	require.NoError(t, err)

	require.NoError(t, store.UpdateChunkCount(ctx, doc.ID, 7))

	docs, err := store.ListDocuments(ctx, nb.ID, "u_1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 7, docs[0].ChunkCount)
}

func TestUpdateChunkCount_UnknownDocument(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateChunkCount(context.Background(), "doc_missing", 3)
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}
