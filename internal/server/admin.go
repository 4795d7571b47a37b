package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
)

// maxIngestBody bounds the admin ingest request body.
const maxIngestBody = 16 << 20

// handleAdminIngest handles POST /api/admin/ingest. The body is a JSON
// array of notice candidates; the response reports per-status counts.
func (s *Server) handleAdminIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.pipeline == nil {
		http.Error(w, "ingestion not configured", http.StatusServiceUnavailable)
		return
	}

	var cands []notice.Candidate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&cands); err != nil {
		http.Error(w, "invalid request body: expected a JSON array of candidates", http.StatusBadRequest)
		return
	}
	if len(cands) == 0 {
		http.Error(w, "no candidates in request", http.StatusBadRequest)
		return
	}

	stats, err := s.pipeline.IngestBatch(r.Context(), cands)
	if err != nil {
		log.Error("admin ingest failed", slog.Any("error", err))
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	s.metrics.recordIngest(stats)

	writeJSON(w, log, ingestResponse{BatchStats: *stats})
}

// handleAdminRebuild handles POST /api/admin/rebuild: re-embed every
// current notice and replace the index contents.
func (s *Server) handleAdminRebuild(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.pipeline == nil {
		http.Error(w, "ingestion not configured", http.StatusServiceUnavailable)
		return
	}

	n, err := s.pipeline.RebuildIndex(r.Context())
	if err != nil {
		log.Error("admin rebuild failed", slog.Any("error", err))
		http.Error(w, "rebuild failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, log, rebuildResponse{Indexed: n})
}

// handleAdminPrune handles POST /api/admin/prune: drop superseded
// versions beyond the configured retention.
func (s *Server) handleAdminPrune(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.pipeline == nil {
		http.Error(w, "ingestion not configured", http.StatusServiceUnavailable)
		return
	}

	deleted, err := s.pipeline.Prune(r.Context())
	if err != nil {
		log.Error("admin prune failed", slog.Any("error", err))
		http.Error(w, "prune failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, log, pruneResponse{Deleted: deleted})
}

// handleAdminInvalidate handles POST /api/admin/cache/invalidate. With a
// category query parameter only answers citing that category (and
// sourceless answers) are dropped; without one the whole cache is
// cleared.
func (s *Server) handleAdminInvalidate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var dropped int
	if raw := r.URL.Query().Get("category"); raw != "" {
		c := notice.Category(raw)
		if !c.Valid() {
			http.Error(w, "unknown category", http.StatusBadRequest)
			return
		}
		dropped = s.cache.Invalidate(c)
	} else {
		dropped = s.cache.InvalidateAll()
	}

	log.Info("cache invalidated by admin", slog.Int("dropped", dropped))
	writeJSON(w, log, invalidateResponse{Dropped: dropped})
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
