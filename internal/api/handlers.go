package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/pipeline"
	"docqa-rag/internal/ragerr"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type searchResponse struct {
	Query   string                   `json:"query"`
	Results []models.ScoredCandidate `json:"results"`
}

type ingestRequest struct {
	Path         string `json:"path"`
	DocumentType string `json:"document_type"`
	Reset        bool   `json:"reset"`
	CorpusID     string `json:"corpus_id,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	results, err := s.query.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	resp, err := s.query.Answer(r.Context(), req.Query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		jsonError(w, "ingestion is disabled", http.StatusNotImplemented)
		return
	}
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	docType := models.DocumentTypeUnstructured
	if req.DocumentType != "" {
		dt, err := models.ParseDocumentType(req.DocumentType)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		docType = dt
	}

	if !s.ingestMu.TryLock() {
		jsonError(w, "an ingestion is already running", http.StatusConflict)
		return
	}
	defer s.ingestMu.Unlock()

	res, err := s.ingest.Run(r.Context(), req.Path, pipeline.IngestOptions{
		DocumentType: docType,
		Reset:        req.Reset,
		CorpusID:     req.CorpusID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	if s.sections == nil {
		jsonError(w, "the index cannot list sections", http.StatusNotImplemented)
		return
	}
	sections, err := s.sections.ListSections(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sections == nil {
		sections = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sections": sections})
}

func (s *Server) handleSectionChunks(w http.ResponseWriter, r *http.Request) {
	if s.sections == nil {
		jsonError(w, "the index cannot list sections", http.StatusNotImplemented)
		return
	}
	title, err := url.PathUnescape(chi.URLParam(r, "title"))
	if err != nil {
		jsonError(w, "invalid section title", http.StatusBadRequest)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	chunks, err := s.sections.QueryBySection(r.Context(), title, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": title, "chunks": chunks})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	log := logging.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Warn("request rejected", zap.Error(err))
	}
	jsonError(w, err.Error(), code)
}

// statusFor maps a pipeline error kind to an HTTP status
func statusFor(err error) int {
	switch ragerr.KindOf(err) {
	case ragerr.Timeout:
		return http.StatusGatewayTimeout
	case ragerr.Retrieval, ragerr.Reranking, ragerr.LLMGeneration, ragerr.LLMInitialization:
		return http.StatusBadGateway
	case ragerr.DocumentLoad, ragerr.InvalidSchema:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
