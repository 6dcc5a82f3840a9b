// Package embeddings provides embedding generation for documents and queries.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/notebookd/internal/genai"
	"go.uber.org/zap"
)

// ErrInvalidConfig indicates invalid provider configuration.
var ErrInvalidConfig = errors.New("invalid embeddings configuration")

// modelDimensions maps known embedding models to their output dimension.
var modelDimensions = map[string]int{
	"text-embedding-004": 768,
	"embedding-001":      768,
}

// Provider is the interface for embedding generation.
//
// EmbedDocuments and EmbedQuery must use the same underlying model: document
// and query vectors are only comparable inside one embedding space.
type Provider interface {
	// EmbedDocuments generates embeddings for a batch of passages. The
	// returned slice is index-aligned with the input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// GeminiProvider implements Provider on top of the Gemini API client.
type GeminiProvider struct {
	client    *genai.Client
	dimension int
	logger    *zap.Logger
}

// NewGeminiProvider creates a provider backed by the given API client.
func NewGeminiProvider(client *genai.Client, logger *zap.Logger) (*GeminiProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := client.EmbeddingModel()
	dim, ok := modelDimensions[model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown embedding model %q", ErrInvalidConfig, model)
	}

	return &GeminiProvider{
		client:    client,
		dimension: dim,
		logger:    logger,
	}, nil
}

// EmbedDocuments embeds a batch of passages in a single API call.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d documents: %w", len(texts), err)
	}

	p.logger.Debug("embedded document batch",
		zap.Int("count", len(texts)),
		zap.Int("dimension", p.dimension),
	)
	return vectors, nil
}

// EmbedQuery embeds a single query with the same model as EmbedDocuments.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := p.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *GeminiProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the underlying client holds no persistent connections.
func (p *GeminiProvider) Close() error {
	return nil
}

// Ensure GeminiProvider implements Provider.
var _ Provider = (*GeminiProvider)(nil)
