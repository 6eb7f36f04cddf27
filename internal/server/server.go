// Package server provides the contaluz HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/config"
	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/search"
	"github.com/hyperjump/contaluz/internal/storage"
	"github.com/hyperjump/contaluz/pkg/utils"
)

// Server is the HTTP server for the contaluz API.
type Server struct {
	orch    *search.Orchestrator
	indices *indexstore.Store
	docs    storage.DocumentStore
	cache   *embedding.EmbeddingCache
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCache exposes the embedding cache size on the status endpoint.
func WithCache(c *embedding.EmbeddingCache) Option {
	return func(s *Server) { s.cache = c }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orch *search.Orchestrator,
	indices *indexstore.Store,
	docs storage.DocumentStore,
	cfg *config.ServerConfig,
	opts ...Option,
) *Server {
	s := &Server{
		orch:    orch,
		indices: indices,
		docs:    docs,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/search", s.handleSearch)
		r.Post("/embed", s.handleEmbed)

		r.Get("/indices", s.handleListIndices)
		r.Get("/indices/{id}", s.handleIndexInfo)
		r.Delete("/indices/{id}", s.handleUnloadIndex)
		r.Post("/indices/{id}/persist", s.handlePersistIndex)
		r.Post("/indices/{id}/load", s.handleLoadIndex)
		r.Post("/indices/{id}/rebuild", s.handleRebuildIndex)

		// one param name for both client routes
		r.Get("/clients/{id}", s.handleClient)
		r.Get("/clients/{id}/invoices", s.handleClientInvoices)
	})
	return r
}

// requestLogger logs each request through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
