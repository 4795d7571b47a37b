package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for an optional remote Qdrant
// vector backend used in place of the in-process index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection holding notice vectors.
	Collection string

	// VectorSize is the embedding dimensionality for this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantSearcher implements Searcher backed by a Qdrant collection.
// Points are keyed by notice ID, so hydration still goes through the
// store and no payload is kept remotely.
type QdrantSearcher struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this backend.
	cfg *QdrantConfig
}

// NewQdrantSearcher connects to Qdrant and ensures the notice collection
// exists, creating it with Euclidean distance if necessary.
func NewQdrantSearcher(ctx context.Context, cfg *QdrantConfig) (*QdrantSearcher, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	s := &QdrantSearcher{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantSearcher) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection existence: %w: %w", ErrIndexUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores or replaces vectors keyed by notice ID.
func (s *QdrantSearcher) Upsert(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("qdrant: upsert: %d ids for %d vectors", len(ids), len(vectors))
	}
	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(id)),
			Vectors: qdrant.NewVectors(vectors[i]...),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Search returns the top-k nearest notice vectors. Qdrant reports plain
// Euclidean distance, which is squared here to match the local index.
func (s *QdrantSearcher) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w: %w", ErrIndexUnavailable, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:       int64(r.Id.GetNum()),
			Distance: r.Score * r.Score,
		})
	}
	return matches, nil
}

// Delete removes the vectors for the given notice IDs.
func (s *QdrantSearcher) Delete(ctx context.Context, ids []int64) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(uint64(id)))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Ping reports whether the Qdrant server is reachable.
func (s *QdrantSearcher) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: ping: %w: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}
