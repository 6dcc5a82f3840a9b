// Package vectorstore defines the interface for vector storage operations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates empty or nil records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrConnectionFailed indicates the store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrStoreUnavailable indicates the store rejected an operation.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Record is a single entry to be stored in a collection: an id, the passage
// text, its embedding, and arbitrary metadata. The embedding is supplied by
// the caller; stores never embed internally, so a batch is embedded exactly
// once before insertion.
type Record struct {
	// ID is the unique identifier within the collection. Inserting a record
	// with an existing ID replaces it.
	ID string

	// Text is the passage content.
	Text string

	// Vector is the embedding for Text.
	Vector []float32

	// Metadata contains additional key-value pairs stored with the record.
	Metadata map[string]interface{}
}

// SearchResult is a single nearest-neighbor match.
type SearchResult struct {
	// ID is the record identifier.
	ID string

	// Text is the record's passage content.
	Text string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata contains the record metadata.
	Metadata map[string]interface{}
}

// Store is the interface for vector storage operations.
//
// The interface is transport-agnostic: implementations can be embedded
// (chromem) or remote (Qdrant gRPC). Records carry their own vectors, and
// queries are by vector, so the similarity metric of the embedding model is
// applied consistently for documents and queries.
//
// Implementations:
//   - QdrantStore: external Qdrant server over gRPC (persistent)
//   - MemoryStore: embedded chromem-go (transient, lost on restart)
type Store interface {
	// EnsureCollection creates the named collection if it does not already
	// exist. Calling it for an existing collection is a no-op, so concurrent
	// callers converge on a single collection.
	EnsureCollection(ctx context.Context, name string, vectorSize int) error

	// Upsert inserts records into a collection keyed by Record.ID.
	// Re-inserting an existing ID replaces the stored record.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Query returns up to topK records nearest to the given vector, ordered
	// best-first. A collection with fewer than topK records returns all
	// available; an empty collection returns an empty slice, not an error.
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection deletes a collection and all its records.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases resources held by the store.
	Close() error
}
