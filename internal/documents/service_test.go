package documents_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/notebookd/internal/chunker"
	"github.com/fyrsmithlabs/notebookd/internal/documents"
	"github.com/fyrsmithlabs/notebookd/internal/genai"
	"github.com/fyrsmithlabs/notebookd/internal/notebook"
	"github.com/fyrsmithlabs/notebookd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testVectorSize = 8

// stubEmbedder produces deterministic vectors from text content so related
// texts land near each other and tests need no live API.
type stubEmbedder struct {
	mu         sync.Mutex
	embedCalls int
	queryCalls int
}

func (e *stubEmbedder) vector(text string) []float32 {
	vec := make([]float32, testVectorSize)
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 997
	}
	var sumSq float32
	for i := range vec {
		vec[i] = float32((hash+i*7)%100) / 100.0
		sumSq += vec[i] * vec[i]
	}
	norm := float32(1.0)
	if sumSq > 0 {
		norm = sqrt32(sumSq)
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func (e *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.embedCalls++
	e.mu.Unlock()
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queryCalls++
	e.mu.Unlock()
	return e.vector(text), nil
}

func sqrt32(x float32) float32 {
	z := x / 2
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

// stubLLM records the last prompt and returns a canned answer.
type stubLLM struct {
	mu         sync.Mutex
	lastPrompt string
	lastOpts   genai.GenerateOptions
	calls      int
	answer     string
	err        error
}

func (l *stubLLM) GenerateContent(ctx context.Context, prompt string, opts genai.GenerateOptions) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.lastPrompt = prompt
	l.lastOpts = opts
	if l.err != nil {
		return "", l.err
	}
	if l.answer == "" {
		return "stub answer", nil
	}
	return l.answer, nil
}

// recordingCounts captures UpdateChunkCount calls.
type recordingCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingCounts() *recordingCounts {
	return &recordingCounts{counts: make(map[string]int)}
}

func (r *recordingCounts) UpdateChunkCount(ctx context.Context, documentID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[documentID] = count
	return nil
}

func (r *recordingCounts) get(documentID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.counts[documentID]
	return count, ok
}

type testHarness struct {
	service  *documents.Service
	embedder *stubEmbedder
	llm      *stubLLM
	counts   *recordingCounts
	registry *notebook.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store := vectorstore.NewMemoryStore(zap.NewNop())
	registry, err := notebook.NewRegistry(store, testVectorSize, zap.NewNop())
	require.NoError(t, err)

	splitter, err := chunker.New(chunker.Config{ChunkSize: 100, Overlap: 20})
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	llm := &stubLLM{}
	counts := newRecordingCounts()

	service, err := documents.NewService(splitter, embedder, llm, registry, counts, documents.Config{}, zap.NewNop())
	require.NoError(t, err)

	return &testHarness{
		service:  service,
		embedder: embedder,
		llm:      llm,
		counts:   counts,
		registry: registry,
	}
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "chunk_doc_42_0", documents.ChunkID("doc_42", 0))
	assert.Equal(t, "chunk_doc_42_17", documents.ChunkID("doc_42", 17))
}

func TestIngest_ShortDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "a single short passage",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)

	count, ok := h.counts.get("doc_1")
	require.True(t, ok)
	assert.Equal(t, 1, count)

	col, err := h.registry.GetOrCreate(ctx, "nb_1")
	require.NoError(t, err)
	stored, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
}

func TestIngest_LongDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	text := strings.Repeat("The mitochondria is the powerhouse of the cell. ", 20)
	result, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       text,
	})
	require.NoError(t, err)
	assert.Greater(t, result.ChunkCount, 1)

	// One batched embedding call regardless of chunk count.
	assert.Equal(t, 1, h.embedder.embedCalls)

	count, _ := h.counts.get("doc_1")
	assert.Equal(t, result.ChunkCount, count)
}

func TestIngest_EmptyDocument(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Ingest(context.Background(), documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "   \n\t ",
	})
	require.ErrorIs(t, err, documents.ErrEmptyDocument)
	assert.Equal(t, 0, h.embedder.embedCalls)
}

func TestIngest_Reingest_ReplacesChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "original content of the document",
	}
	_, err := h.service.Ingest(ctx, req)
	require.NoError(t, err)

	req.Text = "revised content of the document"
	result, err := h.service.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)

	// Same chunk ids, so the collection holds one chunk, not two.
	col, err := h.registry.GetOrCreate(ctx, "nb_1")
	require.NoError(t, err)
	stored, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
}

func TestIngest_MetadataOnChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "tagged passage",
		Metadata:   map[string]interface{}{"source": "upload"},
	})
	require.NoError(t, err)

	result, err := h.service.Query(ctx, documents.QueryRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		Question:   "tagged passage",
	})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "chunk_doc_1_0", result.Sources[0].ChunkID)
	assert.Equal(t, "doc_1", result.Sources[0].DocumentID)
	assert.Equal(t, "upload", result.Sources[0].Metadata["source"])
}

func TestQuery_AnswersFromIngestedContent(t *testing.T) {
	h := newHarness(t)
	h.llm.answer = "the answer"
	ctx := context.Background()

	_, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "gophers live in burrows",
	})
	require.NoError(t, err)

	result, err := h.service.Query(ctx, documents.QueryRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		Question:   "where do gophers live?",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "gophers live in burrows", result.Sources[0].Text)

	// The prompt embeds the retrieved chunk and the question.
	assert.Contains(t, h.llm.lastPrompt, "gophers live in burrows")
	assert.Contains(t, h.llm.lastPrompt, "where do gophers live?")
	assert.Contains(t, h.llm.lastPrompt, "Answer the question based on the following context:")
	assert.InDelta(t, 0.1, h.llm.lastOpts.Temperature, 0.0001)
	assert.Equal(t, 2048, h.llm.lastOpts.MaxOutputTokens)
}

func TestQuery_TopKCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := h.service.Ingest(ctx, documents.IngestRequest{
			UserID:     "u_1",
			NotebookID: "nb_1",
			DocumentID: fmt.Sprintf("doc_%d", i),
			Text:       fmt.Sprintf("passage number %d about various topics", i),
		})
		require.NoError(t, err)
	}

	result, err := h.service.Query(ctx, documents.QueryRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		Question:   "passages about topics",
	})
	require.NoError(t, err)
	assert.Len(t, result.Sources, 4)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	h := newHarness(t)

	for _, question := range []string{"", "   ", "\n\t"} {
		_, err := h.service.Query(context.Background(), documents.QueryRequest{
			UserID:     "u_1",
			NotebookID: "nb_1",
			Question:   question,
		})
		require.ErrorIs(t, err, documents.ErrEmptyQuery)
	}

	// Rejected before any embedding or generation work.
	assert.Equal(t, 0, h.embedder.queryCalls)
	assert.Equal(t, 0, h.llm.calls)
}

func TestQuery_EmptyNotebook(t *testing.T) {
	h := newHarness(t)
	h.llm.answer = "I don't have enough information."

	result, err := h.service.Query(context.Background(), documents.QueryRequest{
		UserID:     "u_1",
		NotebookID: "nb_empty",
		Question:   "anything at all?",
	})
	require.NoError(t, err)

	// The model still runs, over an empty context, and no sources attach.
	assert.Equal(t, 1, h.llm.calls)
	assert.Equal(t, "I don't have enough information.", result.Answer)
	assert.Empty(t, result.Sources)
	assert.Contains(t, h.llm.lastPrompt, "anything at all?")
}

func TestQuery_LLMFailure(t *testing.T) {
	h := newHarness(t)
	h.llm.err = genai.ErrUpstream
	ctx := context.Background()

	_, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		DocumentID: "doc_1",
		Text:       "some content",
	})
	require.NoError(t, err)

	_, err = h.service.Query(ctx, documents.QueryRequest{
		UserID:     "u_1",
		NotebookID: "nb_1",
		Question:   "what content?",
	})
	assert.ErrorIs(t, err, genai.ErrUpstream)
}

func TestIngest_ConcurrentSameNotebook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.Ingest(ctx, documents.IngestRequest{
				UserID:     "u_1",
				NotebookID: "nb_shared",
				DocumentID: fmt.Sprintf("doc_%d", i),
				Text:       fmt.Sprintf("concurrent passage %d", i),
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
	}

	// All writers landed in one collection.
	col, err := h.registry.GetOrCreate(ctx, "nb_shared")
	require.NoError(t, err)
	count, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, count)
}

func TestContextJoinedWithBlankLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Ingest(ctx, documents.IngestRequest{
		UserID: "u_1", NotebookID: "nb_1", DocumentID: "doc_a", Text: "alpha facts here",
	})
	require.NoError(t, err)
	_, err = h.service.Ingest(ctx, documents.IngestRequest{
		UserID: "u_1", NotebookID: "nb_1", DocumentID: "doc_b", Text: "beta facts here",
	})
	require.NoError(t, err)

	_, err = h.service.Query(ctx, documents.QueryRequest{
		UserID: "u_1", NotebookID: "nb_1", Question: "facts?",
	})
	require.NoError(t, err)

	// Both chunks appear in the prompt, separated by a blank line.
	prompt := h.llm.lastPrompt
	assert.Contains(t, prompt, "alpha facts here")
	assert.Contains(t, prompt, "beta facts here")
	assert.Contains(t, prompt, "\n\n")
}
