// Package ingestion implements the notice ingestion pipeline: candidate
// validation, category inference, content-hash deduplication, version
// chaining, embedding, and vector index maintenance. The pipeline is
// invoked by the `noticebot ingest` CLI command and the admin ingest
// endpoint.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opennotice/noticebot/internal/cache"
	"github.com/opennotice/noticebot/internal/embedder"
	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/store"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// Status reports what ingesting a candidate did to the store.
type Status string

const (
	// StatusCreated means the candidate started a new version chain.
	StatusCreated Status = "created"
	// StatusUpdated means the candidate superseded an existing version.
	StatusUpdated Status = "updated"
	// StatusUnchanged means an identical notice was already current.
	StatusUnchanged Status = "unchanged"
)

// ErrInvalidCandidate marks candidates rejected by validation. Batch
// ingest skips them; everything else aborts the batch.
var ErrInvalidCandidate = errors.New("ingestion: invalid candidate")

// RemoteIndex mirrors notice vectors into an external search backend.
// Satisfied by the Qdrant searcher; nil disables mirroring.
type RemoteIndex interface {
	Upsert(ctx context.Context, ids []int64, vectors [][]float32) error
	Delete(ctx context.Context, ids []int64) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// VectorPath and MappingPath are where the index is persisted after
	// a batch. Empty disables persistence.
	VectorPath  string
	MappingPath string

	// KeepVersions is how many versions per chain Prune retains.
	// Defaults to 5 if zero.
	KeepVersions int
}

// Pipeline orchestrates the validate → dedup → version → embed → index
// flow for notice candidates. Not safe for concurrent batches; callers
// serialize ingest runs.
type Pipeline struct {
	// store persists the versioned notice records.
	store *store.Store

	// embedder converts notices into dense vectors.
	embedder *embedder.Generator

	// index is the in-process vector index slots are assigned from.
	index *vecindex.Index

	// remote optionally mirrors vectors into an external backend.
	remote RemoteIndex

	// cache is invalidated per category after successful batches.
	// Optional.
	cache *cache.Cache

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Result describes the outcome of ingesting a single candidate.
type Result struct {
	// Status is what happened to the store.
	Status Status `json:"status"`
	// Notice is the current record for the candidate: the new version
	// for created/updated, the existing one for unchanged.
	Notice *notice.Notice `json:"notice"`
}

// BatchStats aggregates the outcomes of a batch ingest run.
type BatchStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	// Indexed counts the records whose embedding reached the index;
	// records whose embedding failed stay retrievable by keyword only
	// until the next rebuild.
	Indexed int `json:"indexed"`
}

// NewPipeline constructs a Pipeline from the provided dependencies.
// The cache and remote index are optional; everything else is required.
func NewPipeline(st *store.Store, gen *embedder.Generator, index *vecindex.Index, c *cache.Cache, remote RemoteIndex, cfg *Config) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("ingestion: store is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("ingestion: embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: vector index is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.KeepVersions <= 0 {
		cfg.KeepVersions = 5
	}
	return &Pipeline{
		store:    st,
		embedder: gen,
		index:    index,
		remote:   remote,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Ingest processes a single candidate end to end, including embedding
// and cache invalidation. A failed embedding is not an error: the record
// stays persisted with no vector slot and is picked up by the next
// rebuild.
func (p *Pipeline) Ingest(ctx context.Context, cand notice.Candidate) (*Result, error) {
	res, err := p.ingestRecord(ctx, cand)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusUnchanged {
		return res, nil
	}
	p.embedAndIndex(ctx, []*notice.Notice{res.Notice})
	p.finishBatch(ctx, []*notice.Notice{res.Notice})
	return res, nil
}

// IngestBatch processes candidates sequentially, embedding the accepted
// ones in one backend call. Invalid candidates are counted as failed and
// skipped; the batch itself only fails on storage errors.
func (p *Pipeline) IngestBatch(ctx context.Context, cands []notice.Candidate) (*BatchStats, error) {
	log := logging.FromContext(ctx)
	stats := &BatchStats{}

	var accepted []*notice.Notice
	for i, cand := range cands {
		res, err := p.ingestRecord(ctx, cand)
		if err != nil {
			if !errors.Is(err, ErrInvalidCandidate) {
				return stats, err
			}
			log.Warn("candidate rejected", "index", i, "title", cand.Title, "error", err)
			stats.Failed++
			continue
		}
		switch res.Status {
		case StatusCreated:
			stats.Created++
			accepted = append(accepted, res.Notice)
		case StatusUpdated:
			stats.Updated++
			accepted = append(accepted, res.Notice)
		case StatusUnchanged:
			stats.Unchanged++
		}
	}

	stats.Indexed = p.embedAndIndex(ctx, accepted)
	p.finishBatch(ctx, accepted)

	log.Info("ingest batch complete",
		"created", stats.Created,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"failed", stats.Failed,
		"indexed", stats.Indexed)
	return stats, nil
}

// ingestRecord runs validation, category inference, deduplication, and
// version chaining for one candidate, persisting the record when it is
// new. It never touches the vector index.
func (p *Pipeline) ingestRecord(ctx context.Context, cand notice.Candidate) (*Result, error) {
	if err := cand.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
	}

	category := cand.Category
	if category == "" {
		category = notice.InferCategory(cand.SourceURL, cand.Title)
	}

	hash := notice.ContentHash(cand.Title, cand.Content)
	existing, err := p.store.FindCurrentByHash(ctx, hash, category)
	if err != nil {
		return nil, fmt.Errorf("ingestion: dedup lookup: %w", err)
	}
	if existing != nil {
		return &Result{Status: StatusUnchanged, Notice: existing}, nil
	}

	prev, err := p.store.FindCurrentByTitle(ctx, cand.Title, category)
	if err != nil {
		return nil, fmt.Errorf("ingestion: chain lookup: %w", err)
	}

	now := p.now().UTC()
	published := cand.PublishedAt
	if published.IsZero() {
		published = now
	}

	n := &notice.Notice{
		Title:       cand.Title,
		Content:     cand.Content,
		Category:    category,
		SourceURL:   cand.SourceURL,
		PublishedAt: published,
		IngestedAt:  now,
		ContentHash: hash,
		Attachments: cand.Attachments,
		Meta:        notice.Analyze(cand.Content),
		Version:     1,
		Current:     true,
		VectorSlot:  -1,
	}

	status := StatusCreated
	if prev != nil {
		status = StatusUpdated
		n.Version = prev.Version + 1
		n.Supersedes = prev.ID
		if err := p.store.MarkSuperseded(ctx, prev.ID); err != nil {
			return nil, fmt.Errorf("ingestion: supersede %d: %w", prev.ID, err)
		}
	}

	if _, err := p.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("ingestion: persist: %w", err)
	}
	return &Result{Status: status, Notice: n}, nil
}

// embedAndIndex embeds the accepted records in one call and assigns
// vector slots. Embedding failures are logged and leave every record at
// slot -1; index failures degrade the same way.
func (p *Pipeline) embedAndIndex(ctx context.Context, accepted []*notice.Notice) int {
	if len(accepted) == 0 {
		return 0
	}
	log := logging.FromContext(ctx)

	titles := make([]string, len(accepted))
	contents := make([]string, len(accepted))
	ids := make([]int64, len(accepted))
	for i, n := range accepted {
		titles[i] = n.Title
		contents[i] = n.Content
		ids[i] = n.ID
	}

	vecs, err := p.embedder.EmbedNoticeBatch(ctx, titles, contents)
	if err != nil {
		log.Warn("embedding failed, records stored without vectors", "count", len(accepted), "error", err)
		return 0
	}

	slots, err := p.index.AddBatch(vecs, ids)
	if err != nil {
		log.Warn("index append failed, records stored without vectors", "count", len(accepted), "error", err)
		return 0
	}

	indexed := 0
	for i, n := range accepted {
		if err := p.store.SetVectorSlot(ctx, n.ID, slots[i]); err != nil {
			log.Warn("record vector slot not persisted", "id", n.ID, "error", err)
			continue
		}
		n.VectorSlot = slots[i]
		indexed++
	}

	if p.remote != nil {
		if err := p.remote.Upsert(ctx, ids, vecs); err != nil {
			log.Warn("remote index upsert failed", "count", len(ids), "error", err)
		}
		p.dropSupersededRemote(ctx, accepted)
	}
	return indexed
}

// dropSupersededRemote removes replaced versions from the remote backend
// so it does not keep returning stale points. Best effort.
func (p *Pipeline) dropSupersededRemote(ctx context.Context, accepted []*notice.Notice) {
	var stale []int64
	for _, n := range accepted {
		if n.Supersedes != 0 {
			stale = append(stale, n.Supersedes)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := p.remote.Delete(ctx, stale); err != nil {
		logging.FromContext(ctx).Warn("remote index delete failed", "count", len(stale), "error", err)
	}
}

// finishBatch invalidates cached answers for the affected categories,
// records the ingest time, and persists the index.
func (p *Pipeline) finishBatch(ctx context.Context, accepted []*notice.Notice) {
	if len(accepted) == 0 {
		return
	}
	log := logging.FromContext(ctx)

	if p.cache != nil {
		now := p.now().UTC()
		seen := make(map[notice.Category]bool)
		for _, n := range accepted {
			if seen[n.Category] {
				continue
			}
			seen[n.Category] = true
			dropped := p.cache.Invalidate(n.Category)
			p.cache.SetLastIngest(n.Category, now)
			log.Debug("cache invalidated", "category", n.Category, "dropped", dropped)
		}
	}

	if err := p.save(); err != nil {
		log.Warn("index persistence failed", "error", err)
	}
}

// RebuildIndex re-embeds every current notice and atomically replaces
// the index contents, reassigning slots densely. Records whose content
// preprocesses to nothing still get (zero) vectors, so slot numbering
// stays aligned with the store.
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx)

	current, err := p.store.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingestion: rebuild: load current notices: %w", err)
	}

	titles := make([]string, len(current))
	contents := make([]string, len(current))
	ids := make([]int64, len(current))
	for i, n := range current {
		titles[i] = n.Title
		contents[i] = n.Content
		ids[i] = n.ID
	}

	vecs, err := p.embedder.EmbedNoticeBatch(ctx, titles, contents)
	if err != nil {
		return 0, fmt.Errorf("ingestion: rebuild: embed: %w", err)
	}
	if err := p.index.Rebuild(vecs, ids); err != nil {
		return 0, fmt.Errorf("ingestion: rebuild: %w", err)
	}

	for i, n := range current {
		if err := p.store.SetVectorSlot(ctx, n.ID, int64(i)); err != nil {
			return 0, fmt.Errorf("ingestion: rebuild: slot for %d: %w", n.ID, err)
		}
	}

	if p.remote != nil && len(ids) > 0 {
		if err := p.remote.Upsert(ctx, ids, vecs); err != nil {
			log.Warn("remote index upsert failed during rebuild", "count", len(ids), "error", err)
		}
	}

	if err := p.save(); err != nil {
		log.Warn("index persistence failed", "error", err)
	}

	log.Info("index rebuilt", "notices", len(current))
	return len(current), nil
}

// Prune deletes superseded versions beyond the configured retention per
// chain and returns the number of rows removed. Slots are untouched:
// pruned records were already out of the index.
func (p *Pipeline) Prune(ctx context.Context) (int64, error) {
	deleted, err := p.store.PruneVersions(ctx, p.cfg.KeepVersions)
	if err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("version chains pruned", "deleted", deleted, "keep", p.cfg.KeepVersions)
	return deleted, nil
}

// save persists the index pair when persistence is configured.
func (p *Pipeline) save() error {
	if p.cfg.VectorPath == "" || p.cfg.MappingPath == "" {
		return nil
	}
	return p.index.Save(p.cfg.VectorPath, p.cfg.MappingPath)
}
