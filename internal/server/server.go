// Package server provides the HTTP API for reference sets, uploads, inquiries and chat.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/indexer"
	"github.com/hyperjump/refdesk/internal/retrieval"
	"github.com/hyperjump/refdesk/internal/storage"
	"github.com/hyperjump/refdesk/internal/vector"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
)

// Server is the HTTP server for the research assistant API.
type Server struct {
	engine  *retrieval.Engine
	indexer *indexer.Indexer
	storage storage.Storage
	gateway *vector.Gateway
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *retrieval.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	gateway *vector.Gateway,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  engine,
		indexer: idx,
		storage: store,
		gateway: gateway,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/hello", s.handleHello)
		r.Get("/status", s.handleStatus)

		r.Get("/reference-sets", s.handleListReferenceSets)
		r.Post("/reference-sets", s.handleCreateReferenceSet)
		r.Get("/reference-sets/{id}", s.handleGetReferenceSet)
		r.Post("/reference-sets/{id}/upload", s.handleUpload)
		r.Post("/upload", s.handleUpload)

		r.Get("/inquiries", s.handleListInquiries)
		r.Post("/inquiries", s.handleCreateInquiry)
		r.Get("/inquiries/{id}", s.handleGetInquiry)
		r.Post("/inquiries/{id}/messages", s.handleInquiryMessage)

		r.Post("/chat", s.handleChat)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			s.respondError(w, http.StatusNotFound, "not found")
		})
	})
	r.Get("/*", s.handleSPA)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors allows requests from any origin and answers preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
