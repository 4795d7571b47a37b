// Package server — metrics.go registers all Prometheus metrics for the
// HTTP server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opennotice/noticebot/internal/ingestion"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// Chat outcome label values.
const (
	outcomeOK          = "ok"
	outcomeCached      = "cached"
	outcomeFallback    = "fallback"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
)

// labelHandler is the "handler" label, partitioning HTTP metrics by the
// route pattern rather than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests
// can inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned
	// by outcome: ok, cached, fallback, rate_limited, or error.
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each
	// /api/chat request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of /api/chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// ingestNoticesTotal counts ingested candidates by status.
	ingestNoticesTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns
// the populated serverMetrics. promauto.With(reg) is used so that each
// call registers into the provided registry rather than the global
// default, which keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer, ix *vecindex.Index) *serverMetrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "noticebot",
		Subsystem: "index",
		Name:      "vectors",
		Help:      "Number of vectors in the index, stale slots included.",
	}, func() float64 { return float64(ix.Size()) })

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noticebot",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "noticebot",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat requests from receipt to stream completion.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "noticebot",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of /api/chat SSE streams currently open.",
		}),

		ingestNoticesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noticebot",
			Subsystem: "ingest",
			Name:      "notices_total",
			Help:      "Total number of ingested candidates, partitioned by status.",
		}, []string{"status"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noticebot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "noticebot",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// recordIngest counts a completed admin ingest batch by status.
func (m *serverMetrics) recordIngest(stats *ingestion.BatchStats) {
	m.ingestNoticesTotal.WithLabelValues(string(ingestion.StatusCreated)).Add(float64(stats.Created))
	m.ingestNoticesTotal.WithLabelValues(string(ingestion.StatusUpdated)).Add(float64(stats.Updated))
	m.ingestNoticesTotal.WithLabelValues(string(ingestion.StatusUnchanged)).Add(float64(stats.Unchanged))
	m.ingestNoticesTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}
