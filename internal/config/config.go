// Package config provides configuration loading for notebookd.
//
// Configuration is loaded from a YAML file and overridden with environment
// variables. Defaults are applied for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete notebookd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Gemini      GeminiConfig      `koanf:"gemini"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Metadata    MetadataConfig    `koanf:"metadata"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" for production or "console" for development.
	Format string `koanf:"format"`
}

// GeminiConfig holds Gemini API client configuration.
type GeminiConfig struct {
	// APIKey authenticates requests. Required; the service refuses to start
	// without it.
	APIKey Secret `koanf:"api_key"`

	// BaseURL overrides the API endpoint.
	BaseURL string `koanf:"base_url"`

	// EmbeddingModel is used for both document and query embeddings.
	EmbeddingModel string `koanf:"embedding_model"`

	// ChatModel is used for answer generation.
	ChatModel string `koanf:"chat_model"`

	// Timeout bounds each API request.
	Timeout Duration `koanf:"timeout"`
}

// QdrantConfig holds Qdrant vector store configuration.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"grpc_port"`
	UseTLS bool   `koanf:"use_tls"`
}

// VectorStoreConfig controls vector store behavior beyond the Qdrant
// connection itself.
type VectorStoreConfig struct {
	// FallbackEnabled lets notebooks degrade to a transient in-memory store
	// when Qdrant is unreachable. Degraded data does not survive restart.
	FallbackEnabled bool `koanf:"fallback_enabled"`
}

// ChunkingConfig holds document chunking parameters.
type ChunkingConfig struct {
	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`
}

// RetrievalConfig holds question answering parameters.
type RetrievalConfig struct {
	TopK            int     `koanf:"top_k"`
	Temperature     float64 `koanf:"temperature"`
	MaxOutputTokens int     `koanf:"max_output_tokens"`
}

// MetadataConfig holds the SQLite metadata store configuration.
type MetadataConfig struct {
	// Path is the SQLite database file location.
	Path string `koanf:"path"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Gemini.EmbeddingModel == "" {
		cfg.Gemini.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Gemini.ChatModel == "" {
		cfg.Gemini.ChatModel = "gemini-2.5-flash"
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = Duration(60 * time.Second)
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.Temperature == 0 {
		cfg.Retrieval.Temperature = 0.1
	}
	if cfg.Retrieval.MaxOutputTokens == 0 {
		cfg.Retrieval.MaxOutputTokens = 2048
	}

	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = "notebookd.db"
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - The Gemini API key is missing
//   - The server or Qdrant port is out of range
//   - Chunking overlap is not smaller than chunk size
//   - Retrieval parameters are out of range
func (c *Config) Validate() error {
	if !c.Gemini.APIKey.IsSet() {
		return errors.New("gemini api key required (set GEMINI_API_KEY)")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Qdrant.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("overlap (%d) must be non-negative and smaller than chunk size (%d)",
			c.Chunking.Overlap, c.Chunking.ChunkSize)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("top_k must be positive: %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Temperature < 0 || c.Retrieval.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2]: %f", c.Retrieval.Temperature)
	}

	return nil
}
