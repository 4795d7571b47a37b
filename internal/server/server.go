// Package server implements the HTTP server that exposes the noticebot
// question-answering API: the SSE chat endpoint, keyword search, stats,
// health/readiness probes, Prometheus metrics, and the authenticated
// admin endpoints for ingest, rebuild, and prune.
// The server is started by the `noticebot serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opennotice/noticebot/internal/cache"
	"github.com/opennotice/noticebot/internal/ingestion"
	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/rag"
	"github.com/opennotice/noticebot/internal/store"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// dateLayout is the wire format for date filters on chat and search.
const dateLayout = "2006-01-02"

// New constructs a Server from the provided collaborators and config.
// The pipeline may be nil, which disables the admin endpoints.
func New(orchestrator *rag.Orchestrator, st *store.Store, c *cache.Cache, ix *vecindex.Index, pipeline *ingestion.Pipeline, cfg *Config) (*Server, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("server: cache must not be nil")
	}
	if ix == nil {
		return nil, fmt.Errorf("server: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		orchestrator: orchestrator,
		store:        st,
		cache:        c,
		index:        ix,
		pipeline:     pipeline,
		cfg:          cfg,
		log:          cfg.Logger,
		pingers:      cfg.Pingers,
		registry:     registry,
	}
	s.metrics = newServerMetrics(registry, ix)

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl, stopRL := newRateLimiter(rps, burst, s.log)
	s.stopRL = stopRL

	if cfg.AdminKey == "" {
		s.log.Warn("no admin key configured, admin endpoints are disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/ingest", s.handleAdminIngest)
	admin.HandleFunc("POST /api/admin/rebuild", s.handleAdminRebuild)
	admin.HandleFunc("POST /api/admin/prune", s.handleAdminPrune)
	admin.HandleFunc("POST /api/admin/cache/invalidate", s.handleAdminInvalidate)
	mux.Handle("/api/admin/", adminAuth(cfg.AdminKey, admin))

	handler := requestLogger(s.log, s.metricsMiddleware(mux, rl.middleware(mux)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("noticebot server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The answer streams as Server-Sent
// Events so clients can render tokens as they arrive; citations follow
// in a trailing "sources" event. Cached answers are replayed as a single
// data frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	filter, err := parseFilter(req.Category, req.From, req.To)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Rate limit per session when one is declared, per IP otherwise.
	// Rejected requests do not consume window capacity.
	identifier := req.SessionID
	if identifier == "" {
		identifier = clientIP(r)
	}
	if allowed, count := s.cache.CheckRateLimit(identifier); !allowed {
		retry := s.cache.RetryAfter(identifier)
		log.Warn("chat rate limit exceeded",
			slog.String("identifier", identifier),
			slog.Int("window_count", count),
		)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeRateLimited).Inc()
		return
	}

	s.cache.Track(req.Message)

	// Filtered queries bypass the cache: the cache key is the query
	// alone, and a filter changes the answer.
	filtered := filter != (rag.Filter{})

	if req.Stream != nil && !*req.Stream {
		s.chatJSON(w, r, req, filter, filtered, start)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	if !filtered {
		if entry, ok := s.cache.Get(req.Message); ok {
			sw.data(entry.Answer)
			sw.event("sources", mustJSON(ragSources(entry.Sources)))
			sw.event("done", "[DONE]")
			s.finishChat(outcomeCached, start)
			return
		}
	}

	history, err := s.loadHistory(r.Context(), req.SessionID)
	if err != nil {
		log.Warn("chat history unavailable", slog.Any("error", err))
	}

	answer, err := s.orchestrator.QueryStream(r.Context(), req.Message, filter, history, func(fragment string) error {
		return sw.data(fragment)
	})
	if err != nil {
		log.Error("chat query failed", slog.Any("error", err))
		sw.event("error", "failed to generate an answer")
		s.finishChat(outcomeError, start)
		return
	}

	sw.event("sources", mustJSON(answer.Sources))
	sw.event("done", "[DONE]")

	if !filtered && !answer.Fallback {
		s.cache.Put(req.Message, cache.Entry{
			Query:    req.Message,
			Answer:   answer.Text,
			Sources:  cacheSources(answer.Sources),
			Took:     time.Since(start),
			CachedAt: time.Now(),
		})
	}
	s.appendHistory(r.Context(), req.SessionID, req.Message, answer.Text)

	outcome := outcomeOK
	if answer.Fallback {
		outcome = outcomeFallback
	}
	s.finishChat(outcome, start)
}

// chatJSON serves the non-streaming chat mode: the complete answer,
// citations, cache provenance and timing in a single JSON body.
func (s *Server) chatJSON(w http.ResponseWriter, r *http.Request, req chatRequest, filter rag.Filter, filtered bool, start time.Time) {
	log := logging.FromContext(r.Context())

	if !filtered {
		if entry, ok := s.cache.Get(req.Message); ok {
			writeJSON(w, log, chatResponse{
				Answer:    entry.Answer,
				Sources:   ragSources(entry.Sources),
				FromCache: true,
				TookMS:    time.Since(start).Milliseconds(),
			})
			s.finishChat(outcomeCached, start)
			return
		}
	}

	history, err := s.loadHistory(r.Context(), req.SessionID)
	if err != nil {
		log.Warn("chat history unavailable", slog.Any("error", err))
	}

	answer, err := s.orchestrator.Query(r.Context(), req.Message, filter, history)
	if err != nil {
		log.Error("chat query failed", slog.Any("error", err))
		http.Error(w, "failed to generate an answer", http.StatusInternalServerError)
		s.finishChat(outcomeError, start)
		return
	}

	if !filtered && !answer.Fallback {
		s.cache.Put(req.Message, cache.Entry{
			Query:    req.Message,
			Answer:   answer.Text,
			Sources:  cacheSources(answer.Sources),
			Took:     time.Since(start),
			CachedAt: time.Now(),
		})
	}
	s.appendHistory(r.Context(), req.SessionID, req.Message, answer.Text)

	writeJSON(w, log, chatResponse{
		Answer:  answer.Text,
		Sources: answer.Sources,
		TookMS:  time.Since(start).Milliseconds(),
	})
	outcome := outcomeOK
	if answer.Fallback {
		outcome = outcomeFallback
	}
	s.finishChat(outcome, start)
}

// finishChat records the chat outcome metrics.
func (s *Server) finishChat(outcome string, start time.Time) {
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// loadHistory converts the session's recent turns into model messages.
// An empty session keeps no history.
func (s *Server) loadHistory(ctx context.Context, session string) ([]*schema.Message, error) {
	if session == "" {
		return nil, nil
	}
	msgs, err := s.store.Recent(ctx, session, s.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out, nil
}

// appendHistory persists the completed turn. Best effort: a history
// write failure never fails the request that produced the answer.
func (s *Server) appendHistory(ctx context.Context, session, question, answer string) {
	if session == "" {
		return
	}
	log := logging.FromContext(ctx)
	if err := s.store.Append(ctx, session, store.RoleUser, question); err != nil {
		log.Warn("history append failed", slog.Any("error", err))
		return
	}
	if err := s.store.Append(ctx, session, store.RoleAssistant, answer); err != nil {
		log.Warn("history append failed", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// parseFilter resolves the optional category and date-range parameters
// shared by chat and search.
func parseFilter(category, from, to string) (rag.Filter, error) {
	var f rag.Filter
	if category != "" {
		c := notice.Category(category)
		if !c.Valid() {
			return f, fmt.Errorf("unknown category %q", category)
		}
		f.Category = c
	}
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return f, fmt.Errorf("invalid from date %q, want YYYY-MM-DD", from)
		}
		f.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return f, fmt.Errorf("invalid to date %q, want YYYY-MM-DD", to)
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("date range is inverted")
	}
	return f, nil
}

// cacheSources converts answer citations into the cache's source shape.
func cacheSources(in []rag.Source) []cache.Source {
	out := make([]cache.Source, len(in))
	for i, src := range in {
		out[i] = cache.Source{
			Title:    src.Title,
			Category: src.Category,
			Date:     src.Published,
			URL:      src.URL,
		}
	}
	return out
}

// ragSources converts cached sources back into the wire citation shape,
// so cached and live answers emit identical source payloads.
func ragSources(in []cache.Source) []rag.Source {
	out := make([]rag.Source, len(in))
	for i, src := range in {
		out[i] = rag.Source{
			Title:     src.Title,
			Category:  src.Category,
			Published: src.Date,
			URL:       src.URL,
		}
	}
	return out
}

// mustJSON renders v for an SSE event payload. Values here are
// marshal-safe by construction.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// sseWriter emits Server-Sent Event frames to an http.ResponseWriter.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// data emits p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line fragments
// never break the SSE frame boundary.
func (s *sseWriter) data(p string) error {
	chunk := strings.TrimRight(strings.Clone(p), "\n")
	lines := strings.Split(chunk, "\n")
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// event emits a named SSE event with a single-line payload.
func (s *sseWriter) event(name, payload string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload)
	s.flusher.Flush()
}
