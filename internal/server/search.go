package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/store"
)

const (
	// defaultSearchLimit is the page size when none is requested.
	defaultSearchLimit = 20
	// maxSearchLimit caps the page size a client may request.
	maxSearchLimit = 50
	// excerptChars is how much notice content a search item carries.
	excerptChars = 150
)

// handleSearch handles GET /api/search: keyword search over current
// notices with optional category and date-range filters, paginated and
// newest first.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	q := r.URL.Query()

	filter, err := parseFilter(q.Get("category"), q.Get("from"), q.Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	total, page, err := s.store.Search(r.Context(), store.SearchParams{
		Query:    q.Get("q"),
		Category: filter.Category,
		From:     filter.From,
		To:       filter.To,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		log.Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	resp := searchResponse{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Items:  make([]searchItem, 0, len(page)),
	}
	for _, n := range page {
		resp.Items = append(resp.Items, searchItem{
			ID:          n.ID,
			Title:       n.Title,
			Excerpt:     n.Excerpt(excerptChars),
			Category:    n.Category,
			SourceURL:   n.SourceURL,
			PublishedAt: n.PublishedAt,
			Version:     n.Version,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("search encode error", slog.Any("error", err))
	}
}

// handleStats handles GET /api/stats: corpus, index, and cache counters
// plus the most popular queries.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	byCategory, err := s.store.CountByCategory(r.Context())
	if err != nil {
		log.Error("stats failed", slog.Any("error", err))
		http.Error(w, "stats failed", http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		Notices:    byCategory,
		IndexSize:  s.index.Size(),
		IndexDim:   s.index.Dim(),
		Cache:      s.cache.Stats(),
		Popular:    s.cache.Popular(10),
		LastIngest: s.cache.LastIngest(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("stats encode error", slog.Any("error", err))
	}
}
