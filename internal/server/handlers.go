package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/refdesk/internal/indexer"
	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/internal/retrieval"
	"github.com/hyperjump/refdesk/internal/storage"
	"go.uber.org/zap"
)

// multipartMemory is the part of a multipart upload kept in memory before spilling to disk.
const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Research Assistant API is running!"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	setCount, err := s.storage.CountReferenceSets(ctx)
	if err != nil {
		s.logger.Error("status: count reference sets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	inquiryCount, err := s.storage.CountInquiries(ctx)
	if err != nil {
		s.logger.Error("status: count inquiries failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vectorInfo := map[string]interface{}{
		"type":      s.config.Vector.Type,
		"state":     s.gateway.State().String(),
		"available": s.gateway.Available(),
	}
	if n, err := s.gateway.Count(ctx); err == nil {
		vectorInfo["size"] = n
	} else {
		s.logger.Warn("status: vector count failed", zap.Error(err))
	}
	embeddingInfo := map[string]interface{}{
		"provider":   s.config.Embedding.Provider,
		"model":      s.config.Embedding.Model,
		"dimensions": s.config.Embedding.Dimensions,
		"available":  true,
	}
	if err := s.engine.EmbedderError(); err != nil {
		embeddingInfo["available"] = false
		embeddingInfo["error"] = err.Error()
	}
	resp := map[string]interface{}{
		"reference_sets": setCount,
		"inquiries":      inquiryCount,
		"vector_index":   vectorInfo,
		"embedding":      embeddingInfo,
		"config": map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"generation_model":     s.config.Generation.Model,
			"chunk_size":           s.config.Ingest.ChunkSize,
			"chunk_overlap":        s.config.Ingest.ChunkOverlap,
			"top_k":                s.config.Retrieval.TopK,
			"database_path":        s.config.Storage.DatabasePath,
			"vector_index_path":    s.config.Storage.VectorIndexPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.VectorIndexPath,
		s.config.Storage.TempDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReferenceSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.storage.ListReferenceSets(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"reference_sets": sets})
}

func (s *Server) handleCreateReferenceSet(w http.ResponseWriter, r *http.Request) {
	var input models.ReferenceSetInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	set := &models.ReferenceSet{Domain: input.Domain, Description: input.Description}
	if err := s.storage.CreateReferenceSet(r.Context(), set); err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("reference set created", zap.String("reference_set_id", set.ID), zap.String("domain", set.Domain))
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "reference_set": set})
}

func (s *Server) handleGetReferenceSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.storage.GetReferenceSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, set)
}

// handleUpload serves both /api/reference-sets/{id}/upload and /api/upload, where
// the reference set comes from the reference_set_id form field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.Server.MaxUploadMB << 20
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.config.Server.MaxUploadMB))
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	setID := chi.URLParam(r, "id")
	if setID == "" {
		setID = r.FormValue("reference_set_id")
	}
	if strings.TrimSpace(setID) == "" {
		s.respondError(w, http.StatusBadRequest, "reference_set_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	if !indexer.Supported(header.Filename, s.config.Watch.Extensions) {
		s.respondError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type %q", filepath.Ext(header.Filename)))
		return
	}

	stats, err := s.indexer.IngestFile(r.Context(), setID, header.Filename, file)
	if err != nil {
		s.logger.Error("upload failed", zap.String("reference_set_id", setID), zap.String("filename", header.Filename), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Processed %s: %d pages, %d chunks", stats.Filename, stats.Pages, stats.Chunks),
		"stats":   stats,
	})
}

func (s *Server) handleListInquiries(w http.ResponseWriter, r *http.Request) {
	inquiries, err := s.storage.ListInquiries(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"inquiries": inquiries})
}

func (s *Server) handleCreateInquiry(w http.ResponseWriter, r *http.Request) {
	var input models.InquiryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	inq := &models.Inquiry{
		Title:           input.Title,
		Description:     input.Description,
		ReferenceSetIDs: input.ReferenceSetIDs,
	}
	if err := s.storage.CreateInquiry(r.Context(), inq); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"inquiry_id": inq.ID,
		"inquiry":    inq,
	})
}

func (s *Server) handleGetInquiry(w http.ResponseWriter, r *http.Request) {
	inq, err := s.storage.GetInquiry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, inq)
}

// handleInquiryMessage asks a question scoped to the inquiry's reference sets and
// records both the question and the answer on the inquiry.
func (s *Server) handleInquiryMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inq, err := s.storage.GetInquiry(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	req := &models.ChatRequest{Query: body.Query, ReferenceSets: inq.ReferenceSetIDs}
	resp, err := s.engine.Ask(ctx, req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	question := &models.Message{Role: models.RoleUser, Content: req.Query}
	answer := &models.Message{Role: models.RoleAssistant, Content: resp.Response, Citations: resp.Citations}
	for _, msg := range []*models.Message{question, answer} {
		if err := s.storage.AddMessage(ctx, inq.ID, msg); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"inquiry_id": inq.ID,
		"answer":     resp,
		"messages":   []*models.Message{question, answer},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.String("query", req.Query), zap.Strings("reference_sets", req.ReferenceSets))
	resp, err := s.engine.Ask(r.Context(), &req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleSPA serves the web client: existing files under the static directory as-is,
// any other path as index.html so client-side routes resolve.
func (s *Server) handleSPA(w http.ResponseWriter, r *http.Request) {
	dir := s.config.Server.StaticDir
	if dir == "" || strings.HasPrefix(r.URL.Path, "/api/") {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	rel := filepath.FromSlash(filepath.Clean("/" + r.URL.Path))
	path := filepath.Join(dir, rel)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, index)
}

// respondErr maps pipeline errors to HTTP statuses.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var ingestErr *indexer.IngestError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, indexer.ErrReferenceSetNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, retrieval.ErrQueryEmbedding):
		s.respondError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &ingestErr) && ingestErr.Stage == indexer.StageNormalized:
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
