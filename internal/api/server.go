// Package api exposes the question answering and ingestion pipelines over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"

	"docqa-rag/internal/models"
	"docqa-rag/internal/pipeline"
	"docqa-rag/internal/vectorstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// QueryService answers and searches
type QueryService interface {
	Search(ctx context.Context, query string, k int) ([]models.ScoredCandidate, error)
	Answer(ctx context.Context, query string) (*models.Response, error)
}

// IngestService runs ingestion
type IngestService interface {
	Run(ctx context.Context, path string, opts pipeline.IngestOptions) (*pipeline.IngestResult, error)
}

// Server is the HTTP API server
type Server struct {
	router   chi.Router
	query    QueryService
	ingest   IngestService
	sections vectorstore.SectionLister
	log      *zap.Logger

	// ingestMu keeps one writer on the index at a time
	ingestMu sync.Mutex
}

// NewServer creates and configures the HTTP server. ingest and sections may
// be nil, which disables their endpoints.
func NewServer(query QueryService, ingest IngestService, sections vectorstore.SectionLister, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		query:    query,
		ingest:   ingest,
		sections: sections,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/ask", s.handleAsk)
		r.Post("/ingest", s.handleIngest)
		r.Get("/sections", s.handleSections)
		r.Get("/sections/{title}", s.handleSectionChunks)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
