// Package genai provides a client for the Gemini generative language API,
// covering text embedding and chat completion.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for API operations.
var (
	// ErrMissingAPIKey indicates the client was constructed without a key.
	ErrMissingAPIKey = errors.New("api key required")

	// ErrEmptyInput indicates an empty text or batch was submitted.
	ErrEmptyInput = errors.New("empty input")

	// ErrUpstream indicates the API returned a non-success response.
	ErrUpstream = errors.New("upstream API error")

	// ErrUpstreamTimeout indicates the API call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream API timeout")

	// ErrEmbeddingFailed indicates the API returned no usable embedding.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Default client parameters.
const (
	defaultBaseURL        = "https://generativelanguage.googleapis.com"
	defaultEmbeddingModel = "text-embedding-004"
	defaultChatModel      = "gemini-2.5-flash"
	defaultTimeout        = 60 * time.Second
	defaultRateLimit      = 10 // requests per second
	defaultBurst          = 20
)

// Config holds configuration for the Gemini client.
type Config struct {
	// APIKey authenticates every request. Required.
	APIKey string

	// BaseURL overrides the API endpoint (used in tests).
	BaseURL string

	// EmbeddingModel is the model used for both document and query embeddings.
	// A single model guarantees both vector kinds live in the same space.
	EmbeddingModel string

	// ChatModel is the model used for answer generation.
	ChatModel string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultEmbeddingModel
	}
	if c.ChatModel == "" {
		c.ChatModel = defaultChatModel
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// GenerateOptions control a single chat completion.
type GenerateOptions struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// MaxOutputTokens caps the response length.
	MaxOutputTokens int
}

// Client calls the Gemini generative language API over HTTPS.
//
// Requests go through a process-wide rate limiter to stay under API quotas.
// Failures are not retried internally: callers surface upstream errors to
// their own callers, who decide whether to resubmit.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Gemini API client.
func NewClient(config Config) (*Client, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

// EmbeddingModel returns the configured embedding model name.
func (c *Client) EmbeddingModel() string {
	return c.config.EmbeddingModel
}

// API request/response shapes. Only the fields this client reads or writes
// are declared.

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type embedContentRequest struct {
	Model   string  `json:"model,omitempty"`
	Content content `json:"content"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embeddingValues struct {
	Values []float32 `json:"values"`
}

type embedContentResponse struct {
	Embedding embeddingValues `json:"embedding"`
}

type batchEmbedResponse struct {
	Embeddings []embeddingValues `json:"embeddings"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type candidate struct {
	Content content `json:"content"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// EmbedBatch generates embeddings for a batch of texts in a single API call.
// The returned slice is index-aligned with the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", ErrEmptyInput)
	}

	reqs := make([]embedContentRequest, len(texts))
	for i, text := range texts {
		reqs[i] = embedContentRequest{
			Model:   "models/" + c.config.EmbeddingModel,
			Content: content{Parts: []contentPart{{Text: text}}},
		}
	}

	var resp batchEmbedResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", c.config.BaseURL, c.config.EmbeddingModel)
	if err := c.doRequest(ctx, url, batchEmbedRequest{Requests: reqs}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingFailed, i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Embed generates an embedding for a single text using the same model as
// EmbedBatch, so query and document vectors share one embedding space.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: no text to embed", ErrEmptyInput)
	}

	req := embedContentRequest{
		Content: content{Parts: []contentPart{{Text: text}}},
	}

	var resp embedContentResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", c.config.BaseURL, c.config.EmbeddingModel)
	if err := c.doRequest(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrEmbeddingFailed)
	}
	return resp.Embedding.Values, nil
}

// GenerateContent generates a chat completion for the given prompt.
func (c *Client) GenerateContent(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: no prompt", ErrEmptyInput)
	}

	req := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []contentPart{{Text: prompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}

	var resp generateContentResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.config.BaseURL, c.config.ChatModel)
	if err := c.doRequest(ctx, url, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", ErrUpstream)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// doRequest performs a rate-limited POST and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, url string, reqBody, respBody interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("%w: parsing response: %v", ErrUpstream, err)
	}
	return nil
}
