// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("notebookd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB (to handle large document batches)
	MaxMessageSize int

	// HealthCheckTimeout bounds the startup health check.
	// Default: 5 seconds
	HealthCheckTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Records are upserted with caller-supplied vectors under a UUIDv5 point id
// derived from Record.ID, so re-inserting the same id replaces the point and
// re-ingestion is idempotent. The original id is preserved in the payload for
// retrieval. Cosine distance, matching the embedding model's native metric.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches collection existence to avoid repeated checks.
	collections sync.Map
}

// NewQdrantStore creates a new QdrantStore with the given configuration.
//
// The constructor validates configuration, dials the gRPC endpoint, and
// performs a health check. An unreachable server fails construction with
// ErrConnectionFailed; availability is surfaced at startup, not retried.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.HealthCheckTimeout)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return store, nil
}

// EnsureCollection creates the named collection if it does not exist.
// Safe under concurrent callers: existence is re-checked server-side, and a
// lost create race resolves to the already-created collection.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
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

	if _, ok := s.collections.Load(name); ok {
		span.SetStatus(codes.Ok, "cached")
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: checking collection %s: %v", ErrStoreUnavailable, name, err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			// A concurrent creator may have won the race.
			if again, checkErr := s.client.CollectionExists(ctx, name); checkErr == nil && again {
				s.collections.Store(name, true)
				span.SetStatus(codes.Ok, "created concurrently")
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: creating collection %s: %v", ErrStoreUnavailable, name, err)
		}
	}

	s.collections.Store(name, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts records keyed by Record.ID.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
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

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record at index %d has no ID", ErrEmptyRecords, i)
		}

		payload := make(map[string]*qdrant.Value, len(rec.Metadata)+2)
		payload["text"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.Text}}
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.ID}}

		for k, v := range rec.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		// Qdrant point ids must be UUIDs or integers. Deriving a UUIDv5 from
		// the record id keeps upserts idempotent; the original id stays in
		// the payload.
		pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.ID)).String()

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: upserting points to %s: %v", ErrStoreUnavailable, collection, err)
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK nearest records, ordered best-first.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
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

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection %s: %v", ErrStoreUnavailable, collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, point := range results {
		result := SearchResult{Score: point.Score}

		if point.Payload != nil {
			result.Metadata = make(map[string]interface{}, len(point.Payload))
			for k, v := range point.Payload {
				switch val := v.Kind.(type) {
				case *qdrant.Value_StringValue:
					result.Metadata[k] = val.StringValue
					if k == "text" {
						result.Text = val.StringValue
					} else if k == "id" {
						result.ID = val.StringValue
					}
				case *qdrant.Value_IntegerValue:
					result.Metadata[k] = val.IntegerValue
				case *qdrant.Value_DoubleValue:
					result.Metadata[k] = val.DoubleValue
				case *qdrant.Value_BoolValue:
					result.Metadata[k] = val.BoolValue
				}
			}
		}

		searchResults[i] = result
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// Count returns the number of points in a collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}

	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("%w: collection info for %s: %v", ErrStoreUnavailable, collection, err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

// DeleteCollection deletes a collection and all its records.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting collection %s: %v", ErrStoreUnavailable, collection, err)
	}

	s.collections.Delete(collection)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ensure QdrantStore implements Store interface.
var _ Store = (*QdrantStore)(nil)
