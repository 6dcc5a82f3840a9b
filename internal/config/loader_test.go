package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/notebookd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "text-embedding-004", cfg.Gemini.EmbeddingModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.ChatModel)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.False(t, cfg.VectorStore.FallbackEnabled)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.1, cfg.Retrieval.Temperature, 0.0001)
	assert.Equal(t, 2048, cfg.Retrieval.MaxOutputTokens)
	assert.Equal(t, "notebookd.db", cfg.Metadata.Path)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestLoad_FromYAML(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	path := writeConfigFile(t, `
server:
  port: 9999
  shutdown_timeout: 30s
logging:
  level: debug
  format: console
qdrant:
  host: qdrant.internal
  grpc_port: 7334
  use_tls: true
vectorstore:
  fallback_enabled: true
chunking:
  chunk_size: 500
  overlap: 100
retrieval:
  top_k: 8
metadata:
  path: /var/lib/notebookd/meta.db
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 7334, cfg.Qdrant.Port)
	assert.True(t, cfg.Qdrant.UseTLS)
	assert.True(t, cfg.VectorStore.FallbackEnabled)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, "/var/lib/notebookd/meta.db", cfg.Metadata.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("QDRANT_HOST", "env-host")

	path := writeConfigFile(t, `
server:
  port: 9999
qdrant:
  host: file-host
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-host", cfg.Qdrant.Host)
	assert.Equal(t, "env-key", cfg.Gemini.APIKey.Value())
}

func TestLoad_APIKeyFromFile(t *testing.T) {
	path := writeConfigFile(t, `
gemini:
  api_key: file-key
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Gemini.APIKey.Value())
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	path := writeConfigFile(t, "server: [not a map")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"overlap too large", "chunking:\n  chunk_size: 100\n  overlap: 100\n"},
		{"negative overlap", "chunking:\n  chunk_size: 100\n  overlap: -1\n"},
		{"bad temperature", "retrieval:\n  temperature: 5.0\n"},
		{"negative top_k", "retrieval:\n  top_k: -2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-key")
			path := writeConfigFile(t, tt.yaml)

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := config.Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())

	empty := config.Secret("")
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d config.Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not a duration")))
}
