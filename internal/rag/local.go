package rag

import (
	"context"
	"fmt"

	"github.com/opennotice/noticebot/internal/vecindex"
)

// LocalSearcher adapts the in-process flat index to the Searcher
// interface. This is the default backend.
type LocalSearcher struct {
	index *vecindex.Index
}

// NewLocalSearcher wraps an in-process vector index.
func NewLocalSearcher(index *vecindex.Index) (*LocalSearcher, error) {
	if index == nil {
		return nil, fmt.Errorf("rag: vector index is required")
	}
	return &LocalSearcher{index: index}, nil
}

// Search runs a flat squared-L2 scan over the local index.
func (s *LocalSearcher) Search(_ context.Context, query []float32, k int) ([]Match, error) {
	hits, err := s.index.Search(query, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	matches := make([]Match, len(hits))
	for i, h := range hits {
		matches[i] = Match{ID: h.ID, Distance: h.Distance}
	}
	return matches, nil
}
