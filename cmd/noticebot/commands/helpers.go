package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opennotice/noticebot/internal/cache"
	"github.com/opennotice/noticebot/internal/embedder"
	"github.com/opennotice/noticebot/internal/ingestion"
	"github.com/opennotice/noticebot/internal/rag"
	"github.com/opennotice/noticebot/internal/store"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// openStore opens the notice store at NOTICEBOT_DB, falling back to the
// default path under ~/.noticebot.
func openStore(log *slog.Logger) (*store.Store, error) {
	path := os.Getenv("NOTICEBOT_DB")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("path", path))
	return st, nil
}

// indexPaths resolves the vector index persistence paths from
// INDEX_VECTOR_PATH / INDEX_MAPPING_PATH, defaulting next to the database
// under ~/.noticebot.
func indexPaths() (string, string) {
	vp := os.Getenv("INDEX_VECTOR_PATH")
	mp := os.Getenv("INDEX_MAPPING_PATH")
	if vp != "" && mp != "" {
		return vp, mp
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return vp, mp
	}
	dir := filepath.Join(home, ".noticebot")
	if vp == "" {
		vp = filepath.Join(dir, "notices.vec")
	}
	if mp == "" {
		mp = filepath.Join(dir, "notices.map.json")
	}
	return vp, mp
}

// newEmbedder validates the embedding configuration and builds the
// embedding generator from env vars.
func newEmbedder(log *slog.Logger) (*embedder.Generator, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, err
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.Int("dim", emb.Dim()),
	)
	return emb, nil
}

// newCache builds the response cache from CACHE_TTL, CHAT_RATE_LIMIT and
// CHAT_RATE_WINDOW. Zero values fall back to the cache's own defaults.
func newCache() *cache.Cache {
	return cache.New(cache.Config{
		TTL:        getEnvDuration("CACHE_TTL", 0),
		RateLimit:  getEnvInt("CHAT_RATE_LIMIT", 0),
		RateWindow: getEnvDuration("CHAT_RATE_WINDOW", 0),
	})
}

// newRemote connects to the Qdrant vector backend when QDRANT_HOST is set.
// Returns (nil, nil) when no remote backend is configured.
func newRemote(ctx context.Context, log *slog.Logger, dim int) (*rag.QdrantSearcher, error) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		return nil, nil
	}
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "notices")

	q, err := rag.NewQdrantSearcher(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(dim), //nolint:gosec // embedding dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant backend ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return q, nil
}

// ragOptions builds retrieval options from RETRIEVAL_TOP_K and
// RETRIEVAL_THRESHOLD. Zero values use the orchestrator's defaults.
func ragOptions() rag.Options {
	return rag.Options{
		TopK:      getEnvInt("RETRIEVAL_TOP_K", 0),
		Threshold: getEnvFloat32("RETRIEVAL_THRESHOLD", 0),
	}
}

// newPipeline builds the ingestion pipeline over the shared collaborators.
// cache and remote may be nil.
func newPipeline(st *store.Store, emb *embedder.Generator, ix *vecindex.Index, c *cache.Cache, q *rag.QdrantSearcher) (*ingestion.Pipeline, error) {
	vp, mp := indexPaths()

	// A typed nil must not become a non-nil interface value.
	var remote ingestion.RemoteIndex
	if q != nil {
		remote = q
	}

	return ingestion.NewPipeline(st, emb, ix, c, remote, &ingestion.Config{
		VectorPath:   vp,
		MappingPath:  mp,
		KeepVersions: getEnvInt("INGEST_KEEP_VERSIONS", 0),
	})
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// getEnvDuration returns the duration value of the named environment
// variable, or fallback if the variable is unset, empty, or not parseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
