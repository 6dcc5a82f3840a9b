// Package documents implements the document ingestion and question answering
// pipelines.
package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notebookd/internal/genai"
	"github.com/fyrsmithlabs/notebookd/internal/notebook"
	"github.com/fyrsmithlabs/notebookd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notebookd.documents")

// Sentinel errors for pipeline operations.
var (
	// ErrEmptyQuery indicates a blank question; rejected before any I/O.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrEmptyDocument indicates a document with no text.
	ErrEmptyDocument = errors.New("document text cannot be empty")
)

// answerPromptTemplate frames retrieved context for the language model.
const answerPromptTemplate = `Answer the question based on the following context:

%s

Question: %s

Please provide a detailed answer.`

// Default generation parameters for answer synthesis. Low temperature keeps
// answers anchored to the retrieved context.
const (
	DefaultTopK            = 4
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 2048
)

// Chunker splits document text into overlapping pieces.
type Chunker interface {
	Split(text string) []string
}

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LanguageModel generates a completion for a prompt.
type LanguageModel interface {
	GenerateContent(ctx context.Context, prompt string, opts genai.GenerateOptions) (string, error)
}

// CollectionProvider resolves a notebook id to its vector collection.
type CollectionProvider interface {
	GetOrCreate(ctx context.Context, notebookID string) (*notebook.Collection, error)
}

// ChunkCountUpdater persists a document's chunk count after ingestion.
type ChunkCountUpdater interface {
	UpdateChunkCount(ctx context.Context, documentID string, count int) error
}

// Config holds pipeline parameters.
type Config struct {
	// TopK is the number of chunks retrieved per query.
	TopK int

	// Temperature for answer generation.
	Temperature float64

	// MaxOutputTokens caps the generated answer length.
	MaxOutputTokens int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", c.TopK)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %f", c.Temperature)
	}
	return nil
}

// Service runs the ingestion and question answering pipelines for notebook
// documents.
type Service struct {
	chunker     Chunker
	embedder    Embedder
	llm         LanguageModel
	collections CollectionProvider
	counts      ChunkCountUpdater
	config      Config
	logger      *zap.Logger
}

// NewService creates a document pipeline service.
func NewService(
	chunker Chunker,
	embedder Embedder,
	llm LanguageModel,
	collections CollectionProvider,
	counts ChunkCountUpdater,
	config Config,
	logger *zap.Logger,
) (*Service, error) {
	if chunker == nil || embedder == nil || llm == nil || collections == nil || counts == nil {
		return nil, fmt.Errorf("all dependencies required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		chunker:     chunker,
		embedder:    embedder,
		llm:         llm,
		collections: collections,
		counts:      counts,
		config:      config,
		logger:      logger,
	}, nil
}

// IngestRequest describes one document to ingest into a notebook.
type IngestRequest struct {
	UserID     string
	NotebookID string
	DocumentID string
	Text       string

	// Metadata is stored with every chunk of the document.
	Metadata map[string]interface{}
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	// ChunkCount is the number of chunks stored for the document.
	ChunkCount int
}

// ChunkID returns the stable chunk identifier for a document and ordinal.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("chunk_%s_%d", documentID, ordinal)
}

// Ingest chunks a document, embeds all chunks in one batch, stores them in
// the notebook's collection, and records the chunk count.
//
// Chunk ids are derived from the document id and ordinal, so re-ingesting
// the same document replaces its chunks instead of duplicating them. A
// failure at any stage leaves the chunk count untouched.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "documents.Ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("notebook_id", req.NotebookID),
		attribute.String("document_id", req.DocumentID),
		attribute.Int("text_length", len(req.Text)),
	)

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyDocument
	}

	pieces := s.chunker.Split(req.Text)
	if len(pieces) == 0 {
		// Nothing embeddable; record the empty document and stop.
		if err := s.counts.UpdateChunkCount(ctx, req.DocumentID, 0); err != nil {
			return nil, fmt.Errorf("updating chunk count: %w", err)
		}
		span.SetStatus(codes.Ok, "no chunks")
		return &IngestResult{ChunkCount: 0}, nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, pieces)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding document %s: %w", req.DocumentID, err)
	}

	col, err := s.collections.GetOrCreate(ctx, req.NotebookID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolving collection for notebook %s: %w", req.NotebookID, err)
	}

	chunks := make([]notebook.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = notebook.Chunk{
			ChunkID:    ChunkID(req.DocumentID, i),
			Text:       piece,
			Ordinal:    i,
			DocumentID: req.DocumentID,
			NotebookID: req.NotebookID,
			UserID:     req.UserID,
			Metadata:   req.Metadata,
		}
	}

	if err := col.Add(ctx, chunks, vectors); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("storing chunks for document %s: %w", req.DocumentID, err)
	}

	if err := s.counts.UpdateChunkCount(ctx, req.DocumentID, len(chunks)); err != nil {
		return nil, fmt.Errorf("updating chunk count: %w", err)
	}

	s.logger.Info("ingested document",
		zap.String("notebook_id", req.NotebookID),
		zap.String("document_id", req.DocumentID),
		zap.Int("chunks", len(chunks)),
		zap.Bool("degraded", col.Degraded()),
	)

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	return &IngestResult{ChunkCount: len(chunks)}, nil
}

// QueryRequest is a question against one notebook.
type QueryRequest struct {
	UserID     string
	NotebookID string
	Question   string
}

// Source is one retrieved chunk that grounded the answer.
type Source struct {
	ChunkID    string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Text       string                 `json:"text"`
	Score      float32                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// QueryResult is the generated answer plus the chunks it was grounded on.
type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Query answers a question from a notebook's documents: the question is
// embedded with the same model as the documents, the nearest chunks are
// retrieved, and the language model generates an answer from them.
//
// An empty notebook still produces an answer; the model sees an empty
// context and responds accordingly, with no sources attached.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "documents.Query")
	defer span.End()

	span.SetAttributes(attribute.String("notebook_id", req.NotebookID))

	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuery
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	col, err := s.collections.GetOrCreate(ctx, req.NotebookID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolving collection for notebook %s: %w", req.NotebookID, err)
	}

	hits, err := col.Search(ctx, queryVector, s.config.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching notebook %s: %w", req.NotebookID, err)
	}

	contextText := buildContext(hits)
	prompt := fmt.Sprintf(answerPromptTemplate, contextText, req.Question)

	answer, err := s.llm.GenerateContent(ctx, prompt, genai.GenerateOptions{
		Temperature:     s.config.Temperature,
		MaxOutputTokens: s.config.MaxOutputTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := make([]Source, len(hits))
	for i, hit := range hits {
		sources[i] = Source{
			ChunkID:    hit.ID,
			DocumentID: metadataString(hit.Metadata, "document_id"),
			Text:       hit.Text,
			Score:      hit.Score,
			Metadata:   hit.Metadata,
		}
	}

	s.logger.Info("answered query",
		zap.String("notebook_id", req.NotebookID),
		zap.Int("sources", len(sources)),
	)

	span.SetAttributes(attribute.Int("sources", len(sources)))
	span.SetStatus(codes.Ok, "success")
	return &QueryResult{Answer: answer, Sources: sources}, nil
}

// buildContext joins retrieved chunk texts with blank lines, best match
// first.
func buildContext(hits []vectorstore.SearchResult) string {
	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Text
	}
	return strings.Join(texts, "\n\n")
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
