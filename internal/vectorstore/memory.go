// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// memoryTracer for OpenTelemetry instrumentation.
var memoryTracer = otel.Tracer("notebookd.vectorstore.memory")

// MemoryStore implements the Store interface using an in-memory chromem-go
// database.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies and exact cosine search. MemoryStore keeps everything in
// process memory: collections are transient and lost on restart, which makes
// it the degraded-mode fallback when the persistent store is unreachable,
// and the default backend in tests.
type MemoryStore struct {
	db     *chromem.DB
	logger *zap.Logger

	// vectorSizes tracks the expected dimension per collection.
	vectorSizes sync.Map
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		db:     chromem.NewDB(),
		logger: logger,
	}
}

// noEmbedFunc is installed on every chromem collection. Records always carry
// caller-supplied vectors, so chromem must never embed on its own.
func noEmbedFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("memory store received a record without a vector")
}

// EnsureCollection creates the named collection if it does not exist.
func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	_, span := memoryTracer.Start(ctx, "MemoryStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", vectorSize),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}

	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: creating collection %s: %v", ErrStoreUnavailable, name, err)
	}

	s.vectorSizes.Store(name, vectorSize)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts records keyed by Record.ID.
func (s *MemoryStore) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := memoryTracer.Start(ctx, "MemoryStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	col := s.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return ErrCollectionNotFound
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record at index %d has no ID", ErrEmptyRecords, i)
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("%w: record %s has no vector", ErrEmptyRecords, rec.ID)
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Metadata:  metadataToString(rec.Metadata),
			Embedding: rec.Vector,
		}
	}

	// Concurrency of 1: vectors are precomputed, nothing to parallelize.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding records to %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records into memory store",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query returns up to topK nearest records, ordered best-first.
func (s *MemoryStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	ctx, span := memoryTracer.Start(ctx, "MemoryStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", topK),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	col := s.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, ErrCollectionNotFound
	}

	// Cap topK at collection size (chromem requires nResults <= doc count).
	count := col.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchResult{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Similarity,
			Metadata: metadataFromString(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// Count returns the number of records in a collection.
func (s *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collection, noEmbedFunc)
	if col == nil {
		return 0, ErrCollectionNotFound
	}
	return col.Count(), nil
}

// DeleteCollection deletes a collection and all its records.
func (s *MemoryStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.vectorSizes.Delete(collection)
	s.logger.Info("deleted memory collection", zap.String("collection", collection))
	return nil
}

// Close is a no-op; the memory store holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}

// metadataToString converts map[string]interface{} to map[string]string.
func metadataToString(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// metadataFromString converts map[string]string back to map[string]interface{}.
func metadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
