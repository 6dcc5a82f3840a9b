// Notebookd is a retrieval-augmented question answering service over
// per-user notebooks.
//
// The binary starts the notebookd HTTP server with full service
// initialization: SQLite metadata store, Qdrant vector store (with optional
// in-memory fallback), Gemini embeddings, and the answer generation
// pipeline.
//
// Configuration is loaded from a YAML file and environment variables; see
// internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	GEMINI_API_KEY=... notebookd
//
//	# Start with a config file
//	notebookd -config /etc/notebookd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/notebookd/internal/chunker"
	"github.com/fyrsmithlabs/notebookd/internal/config"
	"github.com/fyrsmithlabs/notebookd/internal/documents"
	"github.com/fyrsmithlabs/notebookd/internal/embeddings"
	"github.com/fyrsmithlabs/notebookd/internal/genai"
	notebookhttp "github.com/fyrsmithlabs/notebookd/internal/http"
	"github.com/fyrsmithlabs/notebookd/internal/logging"
	"github.com/fyrsmithlabs/notebookd/internal/metastore"
	"github.com/fyrsmithlabs/notebookd/internal/notebook"
	"github.com/fyrsmithlabs/notebookd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("notebookd %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// run starts the notebookd server and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting notebookd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	// Gemini client: embeddings and answer generation share one client.
	client, err := genai.NewClient(genai.Config{
		APIKey:         cfg.Gemini.APIKey.Value(),
		BaseURL:        cfg.Gemini.BaseURL,
		EmbeddingModel: cfg.Gemini.EmbeddingModel,
		ChatModel:      cfg.Gemini.ChatModel,
		Timeout:        cfg.Gemini.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	embedder, err := embeddings.NewGeminiProvider(client, logger.Named("embeddings"))
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer embedder.Close()

	// Vector store: Qdrant is the primary; an unreachable Qdrant is fatal
	// unless the in-memory fallback is enabled.
	var primary vectorstore.Store
	registryOpts := []notebook.RegistryOption{}

	qdrantStore, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		if !cfg.VectorStore.FallbackEnabled {
			return fmt.Errorf("connecting to qdrant: %w", err)
		}
		logger.Warn("qdrant unreachable, running fully in-memory; data will not survive restart",
			zap.Error(err),
		)
		primary = vectorstore.NewMemoryStore(logger.Named("vectorstore"))
	} else {
		primary = qdrantStore
		if cfg.VectorStore.FallbackEnabled {
			fallback := vectorstore.NewMemoryStore(logger.Named("vectorstore.fallback"))
			registryOpts = append(registryOpts, notebook.WithFallback(fallback))
		}
	}
	defer primary.Close()

	registry, err := notebook.NewRegistry(primary, embedder.Dimension(), logger.Named("notebook"), registryOpts...)
	if err != nil {
		return fmt.Errorf("creating notebook registry: %w", err)
	}

	meta, err := metastore.NewStore(cfg.Metadata.Path, logger.Named("metastore"))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer meta.Close()

	splitter, err := chunker.New(chunker.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
	})
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	pipeline, err := documents.NewService(
		splitter,
		embedder,
		client,
		registry,
		meta,
		documents.Config{
			TopK:            cfg.Retrieval.TopK,
			Temperature:     cfg.Retrieval.Temperature,
			MaxOutputTokens: cfg.Retrieval.MaxOutputTokens,
		},
		logger.Named("documents"),
	)
	if err != nil {
		return fmt.Errorf("creating document pipeline: %w", err)
	}

	server, err := notebookhttp.NewServer(meta, pipeline, registry, logger.Named("http"), &notebookhttp.Config{
		Host: "",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
