// Package rag implements retrieval-augmented question answering over the
// notice store: embedding the query, searching a vector backend,
// hydrating and filtering the matched notices, building a bounded
// context, and generating a grounded, cited answer. The interfaces here
// keep the orchestrator independent of the concrete index, store, and
// model implementations.
package rag

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"github.com/opennotice/noticebot/internal/notice"
)

// ErrIndexUnavailable marks failures reaching the vector search backend.
var ErrIndexUnavailable = errors.New("rag: vector index unavailable")

// Match is a raw vector search result: the notice the matched slot maps
// to and its distance from the query (squared L2, smaller is closer).
type Match struct {
	// ID is the matched notice's store ID.
	ID int64
	// Distance is the squared L2 distance from the query vector.
	Distance float32
}

// QueryEmbedder converts query text into a dense vector.
// Implementations must be safe to call from multiple goroutines.
type QueryEmbedder interface {
	// Embed converts a single text into its embedding.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs nearest-neighbour search over notice vectors.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns up to k matches for the query vector, closest
	// first. Fewer than k results is not an error.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
}

// NoticeSource hydrates matched IDs into full current notices.
// IDs whose notice has been superseded or deleted are absent from the
// result, which is how stale index slots are dropped.
type NoticeSource interface {
	ByIDs(ctx context.Context, ids []int64) (map[int64]*notice.Notice, error)
}

// Generator produces answers from chat messages, optionally streaming
// fragments through a callback. Implementations must be safe to call
// from multiple goroutines.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	GenerateStream(ctx context.Context, messages []*schema.Message, fn func(fragment string) error) (string, error)
}
