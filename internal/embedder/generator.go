package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Client converts already-preprocessed texts into embeddings. The
// returned slice is parallel to the input. Implementations are the raw
// HTTP backends in this package.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the embedding front door used by the rest of the system.
// It layers the text pipeline on top of a raw Client: preprocessing,
// token-budget truncation, the zero-vector policy for empty inputs, and
// batch alignment so callers can rely on output position i describing
// input position i.
type Generator struct {
	// client is the backend producing the actual vectors.
	client Client
	// dim is the vector dimensionality, used for zero vectors.
	dim int
	// maxTokens is the per-text truncation budget.
	maxTokens int
	// titleWeight is how many times a notice title is repeated when
	// combining title and content for embedding.
	titleWeight int
}

// NewGenerator wraps client with the text pipeline. dim must match the
// backend model's output dimensionality.
func NewGenerator(client Client, dim int) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("embedder: client is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: dimension must be positive, got %d", dim)
	}
	return &Generator{
		client:      client,
		dim:         dim,
		maxTokens:   DefaultMaxTokens,
		titleWeight: 2,
	}, nil
}

// Dim returns the vector dimensionality the generator produces.
func (g *Generator) Dim() int { return g.dim }

// Embed converts a single text into its embedding. Text that is empty
// after preprocessing yields a zero vector rather than an error, so
// degenerate documents index as "similar to nothing".
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch converts a batch of texts into embeddings, preserving
// positions: output i always describes input i. Texts that are empty
// after preprocessing receive zero vectors; only the non-empty ones are
// sent to the backend, and the results are scattered back into place.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var live []string
	var liveIdx []int
	for i, t := range texts {
		cleaned := Truncate(Preprocess(t), g.maxTokens)
		if cleaned == "" {
			out[i] = make([]float32, g.dim)
			continue
		}
		live = append(live, cleaned)
		liveIdx = append(liveIdx, i)
	}
	if len(live) == 0 {
		return out, nil
	}

	vecs, err := g.client.Embed(ctx, live)
	if err != nil {
		return nil, fmt.Errorf("embedder: embed batch: %w", err)
	}
	if len(vecs) != len(live) {
		return nil, fmt.Errorf("embedder: backend returned %d vectors for %d texts", len(vecs), len(live))
	}
	for j, v := range vecs {
		if len(v) != g.dim {
			return nil, fmt.Errorf("embedder: backend returned dimension %d, want %d", len(v), g.dim)
		}
		out[liveIdx[j]] = v
	}
	return out, nil
}

// EmbedNotice embeds a notice's title and content as one text, with the
// title repeated so it carries more weight in semantic search.
func (g *Generator) EmbedNotice(ctx context.Context, title, content string) ([]float32, error) {
	return g.Embed(ctx, g.combine(title, content))
}

// EmbedNoticeBatch embeds title/content pairs, positions preserved.
func (g *Generator) EmbedNoticeBatch(ctx context.Context, titles, contents []string) ([][]float32, error) {
	if len(titles) != len(contents) {
		return nil, fmt.Errorf("embedder: %d titles for %d contents", len(titles), len(contents))
	}
	combined := make([]string, len(titles))
	for i := range titles {
		combined[i] = g.combine(titles[i], contents[i])
	}
	return g.EmbedBatch(ctx, combined)
}

// combine builds the embedding text for a notice: the title repeated
// titleWeight times, then the content.
func (g *Generator) combine(title, content string) string {
	parts := make([]string, 0, g.titleWeight+1)
	for range g.titleWeight {
		parts = append(parts, title)
	}
	parts = append(parts, content)
	return strings.TrimSpace(strings.Join(parts, " "))
}
