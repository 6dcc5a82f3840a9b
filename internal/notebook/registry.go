// Package notebook manages per-notebook vector collections.
//
// Each notebook owns one collection in the vector store, created lazily on
// first use. The registry guarantees that concurrent callers for the same
// notebook converge on a single collection, and optionally degrades a
// notebook to an in-memory store when the persistent store is unreachable.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/notebookd/internal/vectorstore"
	"go.uber.org/zap"
)

// Sentinel errors for notebook collection operations.
var (
	// ErrLengthMismatch indicates chunks and vectors differ in length.
	ErrLengthMismatch = errors.New("chunks and vectors length mismatch")

	// ErrInvalidNotebookID indicates a notebook id that cannot form a valid
	// collection name.
	ErrInvalidNotebookID = errors.New("invalid notebook id")

	// ErrCollectionUnavailable indicates the collection could not be created
	// on any store.
	ErrCollectionUnavailable = errors.New("notebook collection unavailable")
)

// collectionPrefix namespaces notebook collections inside a shared store.
const collectionPrefix = "notebook_"

// CollectionName returns the vector store collection name for a notebook id.
func CollectionName(notebookID string) string {
	return collectionPrefix + notebookID
}

// Chunk is one embeddable slice of a document, carrying the identifiers
// needed to trace a search hit back to its source.
type Chunk struct {
	// ChunkID uniquely identifies the chunk within the notebook.
	ChunkID string

	// Text is the chunk content.
	Text string

	// Ordinal is the chunk's position within its document, starting at 0.
	Ordinal int

	// DocumentID identifies the source document.
	DocumentID string

	// NotebookID identifies the owning notebook.
	NotebookID string

	// UserID identifies the notebook owner.
	UserID string

	// Metadata carries caller-supplied key-value pairs stored alongside the
	// standard identifiers.
	Metadata map[string]interface{}
}

// Collection is a notebook's slice of the vector store. It is bound to one
// backing store for its lifetime, so a degraded notebook stays on the
// in-memory store until restart rather than silently splitting its data
// across backends.
type Collection struct {
	name     string
	store    vectorstore.Store
	degraded bool
}

// Name returns the underlying collection name.
func (c *Collection) Name() string {
	return c.name
}

// Degraded reports whether the collection lives on the transient in-memory
// fallback instead of the persistent store.
func (c *Collection) Degraded() bool {
	return c.degraded
}

// Add stores chunks with their precomputed vectors. Chunks and vectors are
// index-aligned; a length mismatch fails before any store I/O.
func (c *Collection) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]interface{}, len(chunk.Metadata)+5)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		// Standard identifiers win over caller-supplied keys.
		metadata["chunk_id"] = chunk.ChunkID
		metadata["document_id"] = chunk.DocumentID
		metadata["notebook_id"] = chunk.NotebookID
		metadata["user_id"] = chunk.UserID
		metadata["ordinal"] = chunk.Ordinal

		records[i] = vectorstore.Record{
			ID:       chunk.ChunkID,
			Text:     chunk.Text,
			Vector:   vectors[i],
			Metadata: metadata,
		}
	}

	if err := c.store.Upsert(ctx, c.name, records); err != nil {
		return fmt.Errorf("adding chunks to %s: %w", c.name, err)
	}
	return nil
}

// Search returns up to topK chunks nearest to the query vector, best-first.
func (c *Collection) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	results, err := c.store.Query(ctx, c.name, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", c.name, err)
	}
	return results, nil
}

// Count returns the number of chunks in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx, c.name)
}

// registryEntry guards one notebook's collection creation.
type registryEntry struct {
	once sync.Once
	col  *Collection
	err  error
}

// Registry hands out notebook collections, creating each at most once.
//
// Creation runs inside a per-notebook sync.Once, so under concurrent
// first access exactly one EnsureCollection reaches the store and every
// caller receives the same *Collection. A failed creation without a
// fallback is forgotten, so a later call can retry once the store recovers.
type Registry struct {
	primary    vectorstore.Store
	fallback   vectorstore.Store
	vectorSize int
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallback installs a transient store used when the primary store fails
// to create a collection. Notebooks bound to the fallback stay there for the
// life of the process and their data does not survive restart.
func WithFallback(store vectorstore.Store) RegistryOption {
	return func(r *Registry) {
		r.fallback = store
	}
}

// NewRegistry creates a registry over the given primary store.
func NewRegistry(primary vectorstore.Store, vectorSize int, logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store required")
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", vectorSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		primary:    primary,
		vectorSize: vectorSize,
		logger:     logger,
		entries:    make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetOrCreate returns the collection for a notebook, creating it on first
// access. Safe for concurrent use; all callers for the same notebook id
// receive the same collection.
func (r *Registry) GetOrCreate(ctx context.Context, notebookID string) (*Collection, error) {
	name := CollectionName(notebookID)
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotebookID, err)
	}

	r.mu.Lock()
	entry, ok := r.entries[notebookID]
	if !ok {
		entry = &registryEntry{}
		r.entries[notebookID] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.col, entry.err = r.create(ctx, notebookID, name)
	})

	if entry.err != nil {
		// Forget the failed entry so a later call retries creation.
		r.mu.Lock()
		if r.entries[notebookID] == entry {
			delete(r.entries, notebookID)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.col, nil
}

// create provisions the collection on the primary store, degrading to the
// fallback when configured.
func (r *Registry) create(ctx context.Context, notebookID, name string) (*Collection, error) {
	primaryErr := r.primary.EnsureCollection(ctx, name, r.vectorSize)
	if primaryErr == nil {
		r.logger.Debug("notebook collection ready",
			zap.String("notebook_id", notebookID),
			zap.String("collection", name),
		)
		return &Collection{name: name, store: r.primary}, nil
	}

	if r.fallback == nil {
		return nil, fmt.Errorf("%w: %v", ErrCollectionUnavailable, primaryErr)
	}

	if err := r.fallback.EnsureCollection(ctx, name, r.vectorSize); err != nil {
		return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrCollectionUnavailable, primaryErr, err)
	}

	r.logger.Warn("notebook degraded to in-memory store, data will not survive restart",
		zap.String("notebook_id", notebookID),
		zap.String("collection", name),
		zap.Error(primaryErr),
	)
	return &Collection{name: name, store: r.fallback, degraded: true}, nil
}

// Drop deletes a notebook's collection and forgets it, so a later
// GetOrCreate starts fresh.
func (r *Registry) Drop(ctx context.Context, notebookID string) error {
	name := CollectionName(notebookID)
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotebookID, err)
	}

	r.mu.Lock()
	entry, ok := r.entries[notebookID]
	delete(r.entries, notebookID)
	r.mu.Unlock()

	store := r.primary
	if ok && entry.col != nil {
		store = entry.col.store
	}

	if err := store.DeleteCollection(ctx, name); err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil
		}
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}
	return nil
}
