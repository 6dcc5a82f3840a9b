// Package http provides the HTTP API for notebookd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/notebookd/internal/documents"
	"github.com/fyrsmithlabs/notebookd/internal/genai"
	"github.com/fyrsmithlabs/notebookd/internal/metastore"
	"github.com/fyrsmithlabs/notebookd/internal/notebook"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// userIDHeader identifies the calling user on every API request.
const userIDHeader = "X-User-ID"

// MetadataStore is the notebook/document metadata the API serves.
type MetadataStore interface {
	CreateNotebook(ctx context.Context, userID, title, description string) (*metastore.Notebook, error)
	GetNotebook(ctx context.Context, notebookID, userID string) (*metastore.Notebook, error)
	ListNotebooks(ctx context.Context, userID string) ([]metastore.Notebook, error)
	DeleteNotebook(ctx context.Context, notebookID, userID string) error
	CreateDocument(ctx context.Context, notebookID, userID, title string) (*metastore.Document, error)
	ListDocuments(ctx context.Context, notebookID, userID string) ([]metastore.Document, error)
}

// Pipeline runs document ingestion and question answering.
type Pipeline interface {
	Ingest(ctx context.Context, req documents.IngestRequest) (*documents.IngestResult, error)
	Query(ctx context.Context, req documents.QueryRequest) (*documents.QueryResult, error)
}

// CollectionDropper removes a notebook's vector collection.
type CollectionDropper interface {
	Drop(ctx context.Context, notebookID string) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for notebookd.
type Server struct {
	echo     *echo.Echo
	store    MetadataStore
	pipeline Pipeline
	dropper  CollectionDropper
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(store MetadataStore, pipeline Pipeline, dropper CollectionDropper, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("metadata store cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if dropper == nil {
		return nil, fmt.Errorf("collection dropper cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		store:    store,
		pipeline: pipeline,
		dropper:  dropper,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1", requireUser)
	v1.POST("/notebooks", s.handleCreateNotebook)
	v1.GET("/notebooks", s.handleListNotebooks)
	v1.GET("/notebooks/:id", s.handleGetNotebook)
	v1.DELETE("/notebooks/:id", s.handleDeleteNotebook)
	v1.GET("/notebooks/:id/documents", s.handleListDocuments)
	v1.POST("/notebooks/:id/documents", s.handleAddDocument)
	v1.POST("/notebooks/:id/query", s.handleQuery)
}

// requireUser rejects API requests without a user identity.
func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(userIDHeader) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, userIDHeader+" header is required")
		}
		return next(c)
	}
}

func userID(c echo.Context) string {
	return c.Request().Header.Get(userIDHeader)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateNotebookRequest is the request body for POST /api/v1/notebooks.
type CreateNotebookRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateNotebook(c echo.Context) error {
	var req CreateNotebookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title field is required")
	}

	nb, err := s.store.CreateNotebook(c.Request().Context(), userID(c), req.Title, req.Description)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, nb)
}

func (s *Server) handleListNotebooks(c echo.Context) error {
	notebooks, err := s.store.ListNotebooks(c.Request().Context(), userID(c))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, notebooks)
}

func (s *Server) handleGetNotebook(c echo.Context) error {
	nb, err := s.store.GetNotebook(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, nb)
}

func (s *Server) handleDeleteNotebook(c echo.Context) error {
	ctx := c.Request().Context()
	notebookID := c.Param("id")

	if err := s.store.DeleteNotebook(ctx, notebookID, userID(c)); err != nil {
		return s.mapError(err)
	}

	// Metadata is gone; dropping the vectors is best effort since an
	// orphaned collection is unreachable anyway.
	if err := s.dropper.Drop(ctx, notebookID); err != nil {
		s.logger.Warn("failed to drop notebook collection",
			zap.String("notebook_id", notebookID),
			zap.Error(err),
		)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.store.ListDocuments(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, docs)
}

// AddDocumentRequest is the request body for POST /api/v1/notebooks/:id/documents.
type AddDocumentRequest struct {
	Title    string                 `json:"title"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AddDocumentResponse is the response body for a successful ingestion.
type AddDocumentResponse struct {
	Document   *metastore.Document `json:"document"`
	ChunkCount int                 `json:"chunk_count"`
}

func (s *Server) handleAddDocument(c echo.Context) error {
	var req AddDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	ctx := c.Request().Context()
	notebookID := c.Param("id")
	uid := userID(c)

	// Ownership is verified by document creation before any pipeline work.
	doc, err := s.store.CreateDocument(ctx, notebookID, uid, req.Title)
	if err != nil {
		return s.mapError(err)
	}

	result, err := s.pipeline.Ingest(ctx, documents.IngestRequest{
		UserID:     uid,
		NotebookID: notebookID,
		DocumentID: doc.ID,
		Text:       req.Text,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return s.mapError(err)
	}

	doc.ChunkCount = result.ChunkCount
	return c.JSON(http.StatusCreated, AddDocumentResponse{
		Document:   doc,
		ChunkCount: result.ChunkCount,
	})
}

// QueryRequest is the request body for POST /api/v1/notebooks/:id/query.
type QueryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	notebookID := c.Param("id")
	uid := userID(c)

	// Ownership check before spending embedding or generation budget.
	if _, err := s.store.GetNotebook(ctx, notebookID, uid); err != nil {
		return s.mapError(err)
	}

	result, err := s.pipeline.Query(ctx, documents.QueryRequest{
		UserID:     uid,
		NotebookID: notebookID,
		Question:   req.Question,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError converts pipeline and store errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, metastore.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, documents.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "question cannot be empty")
	case errors.Is(err, documents.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, "document text cannot be empty")
	case errors.Is(err, genai.ErrUpstreamTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "upstream model timed out")
	case errors.Is(err, genai.ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream model error")
	case errors.Is(err, notebook.ErrCollectionUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "vector store unavailable")
	default:
		s.logger.Error("unhandled request error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
