package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
)

const (
	// defaultTopK is the number of notices handed to the generator.
	defaultTopK = 5
	// defaultThreshold is the squared L2 distance above which a match is
	// considered irrelevant and dropped.
	defaultThreshold = 1.5
	// defaultMaxContextChars bounds the assembled context block.
	defaultMaxContextChars = 8000

	// truncateBuffer is reserved when force-fitting the last context
	// entry, and truncateMin is the smallest fragment worth keeping.
	truncateBuffer = 200
	truncateMin    = 100
)

// fallbackAnswer is returned verbatim when retrieval yields nothing
// relevant. The generator is not called in that case.
const fallbackAnswer = "I don't have recent information about that. " +
	"Please check the official notices page or contact the administration office."

const systemPrompt = `You are an assistant that answers questions about official university notices.

Answer using ONLY the numbered context entries below. Follow these rules:
1. Base every statement on the context; never invent notices, dates, or details.
2. Cite the entries you used by their [number].
3. Quote dates and deadlines exactly as they appear in the notice.
4. When entries conflict, prefer the most recently published one.
5. If the context does not answer the question, say you do not have that information.
6. Keep the answer concise and factual.
7. Do not mention the context mechanism itself; just answer.

Context from official notice sources:
%s`

// Filter narrows retrieval to a category and/or publication date range.
// Zero values leave the corresponding dimension unconstrained; the date
// range is inclusive at both ends.
type Filter struct {
	Category notice.Category
	From     time.Time
	To       time.Time
}

// Result is one retrieved notice with its relevance scores.
type Result struct {
	// Notice is the hydrated current notice.
	Notice *notice.Notice
	// Distance is the squared L2 distance from the query vector.
	Distance float32
	// Similarity is 1/(1+Distance), in (0, 1], larger is closer.
	Similarity float64
}

// Source identifies a notice that contributed to an answer's context.
type Source struct {
	Title     string          `json:"title"`
	Category  notice.Category `json:"category"`
	Published time.Time       `json:"published_at"`
	URL       string          `json:"url,omitempty"`
}

// Answer is a generated response together with the notices it cites.
type Answer struct {
	// Text is the generated (or fallback) answer.
	Text string `json:"answer"`
	// Sources lists exactly the notices whose content made it into the
	// context, in citation order.
	Sources []Source `json:"sources"`
	// Fallback is true when nothing relevant was retrieved and Text is
	// the canned fallback rather than model output.
	Fallback bool `json:"fallback,omitempty"`
}

// Options tunes the orchestrator. Zero values select the defaults.
type Options struct {
	// TopK is the maximum number of notices used for an answer.
	TopK int
	// Threshold is the squared L2 distance cutoff for relevance.
	Threshold float32
	// MaxContextChars bounds the assembled context block.
	MaxContextChars int
}

// Orchestrator runs the retrieve-then-generate pipeline. Safe for
// concurrent use when its collaborators are.
type Orchestrator struct {
	embedder QueryEmbedder
	searcher Searcher
	source   NoticeSource
	gen      Generator

	topK            int
	threshold       float32
	maxContextChars int
}

// NewOrchestrator wires the pipeline. The generator may be nil, in which
// case only Retrieve is usable and Query returns an error.
func NewOrchestrator(embedder QueryEmbedder, searcher Searcher, source NoticeSource, gen Generator, opts Options) (*Orchestrator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: query embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher is required")
	}
	if source == nil {
		return nil, fmt.Errorf("rag: notice source is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = defaultMaxContextChars
	}
	return &Orchestrator{
		embedder:        embedder,
		searcher:        searcher,
		source:          source,
		gen:             gen,
		topK:            opts.TopK,
		threshold:       opts.Threshold,
		maxContextChars: opts.MaxContextChars,
	}, nil
}

// Retrieve returns the most relevant current notices for the query,
// best first. It over-fetches twice the configured top-k so that stale
// slots and filtered-out matches do not starve the result, then drops
// matches beyond the distance threshold, applies the filter, and
// truncates to top-k.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, f Filter) ([]Result, error) {
	log := logging.FromContext(ctx)

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	matches, err := o.searcher.Search(ctx, vec, o.topK*2)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	if len(matches) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	notices, err := o.source.ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: hydrate matches: %w", err)
	}

	results := make([]Result, 0, o.topK)
	for _, m := range matches {
		if m.Distance > o.threshold {
			continue
		}
		n, ok := notices[m.ID]
		if !ok {
			// Stale slot: the notice was superseded after indexing.
			continue
		}
		if f.Category != "" && n.Category != f.Category {
			continue
		}
		if !notice.InDateRange(n.PublishedAt, f.From, f.To) {
			continue
		}
		results = append(results, Result{
			Notice:     n,
			Distance:   m.Distance,
			Similarity: 1 / (1 + float64(m.Distance)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > o.topK {
		results = results[:o.topK]
	}

	log.Debug("retrieval complete",
		"query_len", len(query),
		"raw_matches", len(matches),
		"results", len(results))
	return results, nil
}

// Query answers the question in one shot. History, when given, is
// replayed between the system prompt and the question so follow-ups
// resolve pronouns and references.
func (o *Orchestrator) Query(ctx context.Context, query string, f Filter, history []*schema.Message) (*Answer, error) {
	return o.query(ctx, query, f, history, nil)
}

// QueryStream answers the question while forwarding each generated
// fragment to fn as it arrives. On fallback the canned answer is
// delivered through fn as a single fragment.
func (o *Orchestrator) QueryStream(ctx context.Context, query string, f Filter, history []*schema.Message, fn func(fragment string) error) (*Answer, error) {
	return o.query(ctx, query, f, history, fn)
}

func (o *Orchestrator) query(ctx context.Context, query string, f Filter, history []*schema.Message, fn func(string) error) (*Answer, error) {
	if o.gen == nil {
		return nil, fmt.Errorf("rag: no generator configured")
	}
	log := logging.FromContext(ctx)

	results, err := o.Retrieve(ctx, query, f)
	if err != nil {
		return nil, err
	}

	contextBlock, sources := o.buildContext(results)
	if contextBlock == "" {
		log.Info("no relevant notices, returning fallback answer")
		if fn != nil {
			if err := fn(fallbackAnswer); err != nil {
				return nil, err
			}
		}
		return &Answer{Text: fallbackAnswer, Sources: []Source{}, Fallback: true}, nil
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(fmt.Sprintf(systemPrompt, contextBlock)))
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(query))

	var text string
	if fn != nil {
		text, err = o.gen.GenerateStream(ctx, messages, fn)
	} else {
		text, err = o.gen.Generate(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("rag: generate answer: %w", err)
	}

	log.Info("answer generated", "sources", len(sources), "answer_len", len(text))
	return &Answer{Text: text, Sources: sources}, nil
}

// buildContext renders results into the numbered context block, stopping
// at the character budget. The entry that would overflow is truncated
// to the remaining room (minus a buffer) when enough of it survives to
// be useful, otherwise dropped; nothing after it is included. Sources
// cover exactly the entries that made it in.
func (o *Orchestrator) buildContext(results []Result) (string, []Source) {
	var b strings.Builder
	sources := make([]Source, 0, len(results))

	for i, r := range results {
		n := r.Notice
		entry := fmt.Sprintf("\n[%d] %s (Published: %s, Category: %s)\nURL: %s\nContent: %s\n",
			i+1, n.Title, n.PublishedAt.Format("2006-01-02"), n.Category, n.SourceURL, n.Content)

		if b.Len()+len(entry) > o.maxContextChars {
			remaining := o.maxContextChars - b.Len() - truncateBuffer
			if remaining > truncateMin {
				b.WriteString(cutAtRune(entry, remaining))
				b.WriteString("...")
				sources = append(sources, sourceOf(n))
			}
			break
		}
		b.WriteString(entry)
		sources = append(sources, sourceOf(n))
	}
	return b.String(), sources
}

// cutAtRune cuts s to at most max bytes, backing the cut off so no
// multi-byte rune is split and the truncated block stays valid UTF-8.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func sourceOf(n *notice.Notice) Source {
	return Source{
		Title:     n.Title,
		Category:  n.Category,
		Published: n.PublishedAt,
		URL:       n.SourceURL,
	}
}
