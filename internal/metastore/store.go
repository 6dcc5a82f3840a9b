// Package metastore persists notebook and document metadata in SQLite.
//
// The vector store holds chunk content and embeddings; this store holds the
// relational shell around them: which notebooks exist, who owns them, and
// which documents they contain.
package metastore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

// Sentinel errors for metadata operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAccessDenied indicates the record exists but belongs to another user.
	ErrAccessDenied = errors.New("access denied")
)

// schema creates the metadata tables. Identifiers are app-generated, so
// every id column is TEXT. Documents cascade with their notebook.
const schema = `
CREATE TABLE IF NOT EXISTS notebooks (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	document_count INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notebooks_user ON notebooks(user_id);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_notebook ON documents(notebook_id);
`

// Notebook is one user's collection of documents.
type Notebook struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Document is the metadata for one ingested document. Its content lives in
// the vector store as chunks.
type Document struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebook_id"`
	Title      string    `json:"title"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a SQLite-backed metadata store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the SQLite database at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL mode for concurrent readers alongside the single writer.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// newID generates a prefixed hex identifier. The character set stays within
// [a-z0-9_] so notebook ids can name vector store collections directly.
func newID(prefix string) string {
	id := uuid.New()
	return prefix + "_" + hex.EncodeToString(id[:])
}

// CreateNotebook creates a notebook owned by userID.
func (s *Store) CreateNotebook(ctx context.Context, userID, title, description string) (*Notebook, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if title == "" {
		return nil, fmt.Errorf("title required")
	}

	nb := &Notebook{
		ID:          newID("nb"),
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notebooks (id, user_id, title, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		nb.ID, nb.UserID, nb.Title, nb.Description, nb.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting notebook: %w", err)
	}

	s.logger.Info("created notebook",
		zap.String("notebook_id", nb.ID),
		zap.String("user_id", userID),
	)
	return nb, nil
}

// GetNotebook returns a notebook owned by userID. A notebook that exists but
// belongs to someone else returns ErrAccessDenied.
func (s *Store) GetNotebook(ctx context.Context, notebookID, userID string) (*Notebook, error) {
	var nb Notebook
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, document_count, created_at FROM notebooks WHERE id = ?`,
		notebookID,
	).Scan(&nb.ID, &nb.UserID, &nb.Title, &nb.Description, &nb.DocumentCount, &nb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notebook %s", ErrNotFound, notebookID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying notebook: %w", err)
	}

	if nb.UserID != userID {
		return nil, fmt.Errorf("%w: notebook %s", ErrAccessDenied, notebookID)
	}
	return &nb, nil
}

// ListNotebooks returns all notebooks owned by userID, newest first.
func (s *Store) ListNotebooks(ctx context.Context, userID string) ([]Notebook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, document_count, created_at
		 FROM notebooks WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying notebooks: %w", err)
	}
	defer rows.Close()

	notebooks := []Notebook{}
	for rows.Next() {
		var nb Notebook
		if err := rows.Scan(&nb.ID, &nb.UserID, &nb.Title, &nb.Description, &nb.DocumentCount, &nb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, rows.Err()
}

// DeleteNotebook removes a notebook and its documents. Ownership is checked
// first, so deleting another user's notebook fails without side effects.
func (s *Store) DeleteNotebook(ctx context.Context, notebookID, userID string) error {
	if _, err := s.GetNotebook(ctx, notebookID, userID); err != nil {
		return err
	}

	// Documents cascade via the foreign key.
	_, err := s.db.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, notebookID)
	if err != nil {
		return fmt.Errorf("deleting notebook: %w", err)
	}

	s.logger.Info("deleted notebook",
		zap.String("notebook_id", notebookID),
		zap.String("user_id", userID),
	)
	return nil
}

// CreateDocument records a document in a notebook and bumps the notebook's
// document count. The notebook must exist and belong to userID.
func (s *Store) CreateDocument(ctx context.Context, notebookID, userID, title string) (*Document, error) {
	if _, err := s.GetNotebook(ctx, notebookID, userID); err != nil {
		return nil, err
	}
	if title == "" {
		title = "Untitled"
	}

	doc := &Document{
		ID:         newID("doc"),
		NotebookID: notebookID,
		Title:      title,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, notebook_id, title, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.NotebookID, doc.Title, doc.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE notebooks SET document_count = document_count + 1 WHERE id = ?`,
		notebookID,
	); err != nil {
		return nil, fmt.Errorf("updating document count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents in a notebook owned by userID, newest
// first.
func (s *Store) ListDocuments(ctx context.Context, notebookID, userID string) ([]Document, error) {
	if _, err := s.GetNotebook(ctx, notebookID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, notebook_id, title, chunk_count, created_at
		 FROM documents WHERE notebook_id = ? ORDER BY created_at DESC, id`,
		notebookID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.NotebookID, &doc.Title, &doc.ChunkCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateChunkCount records how many chunks a document produced at ingestion.
func (s *Store) UpdateChunkCount(ctx context.Context, documentID string, count int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET chunk_count = ? WHERE id = ?`,
		count, documentID,
	)
	if err != nil {
		return fmt.Errorf("updating chunk count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return nil
}
