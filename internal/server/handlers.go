package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/models"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, cerr.Wrap(err, cerr.CodeServerRequestInvalid, "invalid request body"))
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.orch.Search(r.Context(), &query)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding"`
	Degraded   bool      `json:"degraded,omitempty"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, cerr.Wrap(err, cerr.CodeServerRequestInvalid, "invalid request body"))
		return
	}
	vec, err := s.orch.Embed(r.Context(), req.Text)
	if err != nil {
		s.respondError(w, err)
		return
	}
	degraded := utils.IsZeroVector(vec)
	s.respondJSON(w, http.StatusOK, embedResponse{
		Model:      s.orch.EmbeddingModel(),
		Dimensions: len(vec),
		Embedding:  vec,
		Degraded:   degraded,
	})
}

type indexInfo struct {
	indexstore.IndexHandle
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
}

func (s *Server) describe(h indexstore.IndexHandle) indexInfo {
	info := indexInfo{IndexHandle: h}
	if n, err := s.indices.DiskUsage(h.ID); err == nil {
		info.DiskUsageBytes = n
	} else {
		s.logger.Debug("disk usage unavailable", zap.String("index_id", h.ID), zap.Error(err))
	}
	return info
}

func (s *Server) handleListIndices(w http.ResponseWriter, r *http.Request) {
	handles := s.indices.List()
	out := make([]indexInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, s.describe(h))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"indices": out, "default": s.orch.DefaultIndexID()})
}

func (s *Server) handleIndexInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.indices.Info(id)
	if !ok {
		s.respondError(w, cerr.New(cerr.CodeIndexNotFound, "index not found", cerr.FieldIndexID(id)))
		return
	}
	s.respondJSON(w, http.StatusOK, s.describe(h))
}

func (s *Server) handleUnloadIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.indices.Remove(id) {
		s.respondError(w, cerr.New(cerr.CodeIndexNotFound, "index not found", cerr.FieldIndexID(id)))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "unloaded"})
}

func (s *Server) handlePersistIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := s.indices.Persist(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": id, "version": version, "status": "persisted"})
}

// handleLoadIndex loads the snapshot named by the "version" query parameter, or the latest
// complete one.
func (s *Server) handleLoadIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var version uint64
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			s.respondError(w, cerr.Errorf(cerr.CodeServerRequestInvalid, "invalid version %q", raw))
			return
		}
		version = v
	}
	if err := s.indices.Load(r.Context(), id, version); err != nil {
		s.respondError(w, err)
		return
	}
	h, _ := s.indices.Info(id)
	s.respondJSON(w, http.StatusOK, s.describe(h))
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.orch.RebuildFromStore(r.Context(), id, nil)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "id")
	rec, ok, err := s.orch.FindClientByNumber(r.Context(), number)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, cerr.New(cerr.CodeStoreRecordNotFound, "client not found", cerr.Field("matricula", number)))
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClientInvoices(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	invoices, err := s.orch.InvoicesForClient(r.Context(), clientID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"cliente_id": clientID, "faturas": invoices, "total": len(invoices)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.docs.CountByType(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	records := make(map[string]int64, len(counts))
	for t, n := range counts {
		records[string(t)] = n
	}
	handles := s.indices.List()
	indices := make([]indexInfo, 0, len(handles))
	var disk int64
	for _, h := range handles {
		info := s.describe(h)
		disk += info.DiskUsageBytes
		indices = append(indices, info)
	}
	resp := map[string]any{
		"records":          records,
		"indices":          indices,
		"default_index":    s.orch.DefaultIndexID(),
		"embedding_model":  s.orch.EmbeddingModel(),
		"disk_usage_bytes": disk,
	}
	if s.cache != nil {
		resp["cache"] = map[string]int{"entries": s.cache.Len(), "pending": s.cache.Pending()}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err to an HTTP status through its code. Server-side failures are logged.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := cerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	if code := cerr.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	s.respondJSON(w, status, body)
}
