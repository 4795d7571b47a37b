package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opennotice/noticebot/internal/cache"
	"github.com/opennotice/noticebot/internal/ingestion"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/rag"
	"github.com/opennotice/noticebot/internal/store"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP across all
	// endpoints (requests/second). Defaults to 10 if zero. The chat
	// endpoint additionally enforces the cache's per-session sliding
	// window on top of this.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// AdminKey is the Bearer token required on /api/admin/* routes.
	// If empty, the admin API is disabled and those routes return 403.
	AdminKey string
	// HistoryTurns is how many prior chat messages are replayed into the
	// model context per session. Defaults to 6 if zero.
	HistoryTurns int
	// Registry receives the server's Prometheus metrics and backs the
	// /metrics endpoint. If nil a private registry is created, which
	// keeps tests hermetic.
	Registry *prometheus.Registry
}

// answerer is the interface handleChat calls to produce an answer.
// *rag.Orchestrator satisfies it; tests inject a fake.
type answerer interface {
	Query(ctx context.Context, query string, f rag.Filter, history []*schema.Message) (*rag.Answer, error)
	QueryStream(ctx context.Context, query string, f rag.Filter, history []*schema.Message, fn func(fragment string) error) (*rag.Answer, error)
}

// Server is the HTTP server exposing the notice question-answering API.
type Server struct {
	// orchestrator answers chat queries; set to the rag orchestrator in
	// production, overridden by a fake in tests.
	orchestrator answerer
	// store backs keyword search, stats, and chat history.
	store *store.Store
	// cache is the response cache, popularity counter, and chat rate
	// limiter.
	cache *cache.Cache
	// pipeline serves the admin ingest/rebuild/prune endpoints. Nil
	// disables them.
	pipeline *ingestion.Pipeline
	// index is reported by the stats endpoint.
	index *vecindex.Index
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on
	// shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry backs the /metrics endpoint.
	registry *prometheus.Registry
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
	// SessionID scopes chat history and the rate-limit window. When
	// empty the client IP is used for rate limiting and no history is
	// kept.
	SessionID string `json:"session_id,omitempty"`
	// Category optionally restricts retrieval to one notice category.
	Category string `json:"category,omitempty"`
	// From and To optionally bound retrieval by publication date,
	// formatted as 2006-01-02. Inclusive.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	// Stream selects the response mode. Absent or true streams the
	// answer as Server-Sent Events; false returns a single JSON body.
	Stream *bool `json:"stream,omitempty"`
}

// chatResponse is the non-streaming chat response body.
type chatResponse struct {
	// Answer is the generated (or cached, or fallback) answer text.
	Answer string `json:"answer"`
	// Sources lists the notices the answer cites.
	Sources []rag.Source `json:"sources"`
	// FromCache reports whether the answer was served from the cache.
	FromCache bool `json:"from_cache"`
	// TookMS is the wall time spent producing the response.
	TookMS int64 `json:"took_ms"`
}

// searchItem is one result in the /api/search response.
type searchItem struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Excerpt     string          `json:"excerpt"`
	Category    notice.Category `json:"category"`
	SourceURL   string          `json:"source_url,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	Version     int             `json:"version"`
}

// searchResponse is the JSON response for GET /api/search.
type searchResponse struct {
	// Total is the number of matches across all pages.
	Total int `json:"total"`
	// Limit and Offset echo the resolved pagination parameters.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	// Items is the requested page, newest first.
	Items []searchItem `json:"items"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Notices is the number of current notices per category.
	Notices map[notice.Category]int `json:"notices"`
	// IndexSize is the number of vectors in the index, stale slots
	// included.
	IndexSize int `json:"index_size"`
	// IndexDim is the index's embedding dimensionality.
	IndexDim int `json:"index_dim"`
	// Cache is a snapshot of the response cache.
	Cache cache.Stats `json:"cache"`
	// Popular lists the most-asked queries, most popular first.
	Popular []cache.PopularQuery `json:"popular"`
	// LastIngest maps category to the last successful ingest time.
	LastIngest map[notice.Category]time.Time `json:"last_ingest"`
}

// ingestResponse is the JSON response for POST /api/admin/ingest.
type ingestResponse struct {
	ingestion.BatchStats
}

// rebuildResponse is the JSON response for POST /api/admin/rebuild.
type rebuildResponse struct {
	// Indexed is the number of current notices now in the index.
	Indexed int `json:"indexed"`
}

// pruneResponse is the JSON response for POST /api/admin/prune.
type pruneResponse struct {
	// Deleted is the number of superseded versions removed.
	Deleted int64 `json:"deleted"`
}

// invalidateResponse is the JSON response for POST /api/admin/cache/invalidate.
type invalidateResponse struct {
	// Dropped is the number of cache entries removed.
	Dropped int `json:"dropped"`
}
