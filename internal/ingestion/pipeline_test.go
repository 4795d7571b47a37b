package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opennotice/noticebot/internal/cache"
	"github.com/opennotice/noticebot/internal/embedder"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/store"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// seqClient hands out a distinct vector per text so index slots are
// distinguishable in assertions.
type seqClient struct {
	n   int
	err error
}

func (c *seqClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		c.n++
		out[i] = []float32{float32(c.n), 0, 0}
	}
	return out, nil
}

func newTestPipeline(t *testing.T, client *seqClient, cfg *Config) (*Pipeline, *store.Store, *vecindex.Index) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	gen, err := embedder.NewGenerator(client, 3)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	ix, err := vecindex.New(3)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	p, err := NewPipeline(st, gen, ix, nil, nil, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, st, ix
}

func examCandidate(content string) notice.Candidate {
	return notice.Candidate{
		Title:       "End-Semester Exam Schedule",
		Content:     content,
		Category:    notice.CategoryExam,
		SourceURL:   "https://notices.example.edu/exam/42",
		PublishedAt: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
	}
}

func Test_Pipeline_Ingest_CreatesRecord(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestPipeline(t, &seqClient{}, nil)
	ctx := context.Background()

	res, err := p.Ingest(ctx, examCandidate("Exams begin on 3 November 2025."))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Status != StatusCreated {
		t.Errorf("status: got %s, want created", res.Status)
	}
	if res.Notice.Version != 1 || !res.Notice.Current {
		t.Errorf("record: version=%d current=%v, want v1 current", res.Notice.Version, res.Notice.Current)
	}
	if res.Notice.VectorSlot != 0 {
		t.Errorf("vector slot: got %d, want 0", res.Notice.VectorSlot)
	}
	if ix.Size() != 1 {
		t.Errorf("index size: got %d, want 1", ix.Size())
	}

	stored, err := st.FindCurrentByTitle(ctx, res.Notice.Title, notice.CategoryExam)
	if err != nil || stored == nil {
		t.Fatalf("stored record: %v, %v", stored, err)
	}
	if stored.VectorSlot != 0 {
		t.Errorf("persisted slot: got %d", stored.VectorSlot)
	}
	if stored.Meta.WordCount == 0 || len(stored.Meta.ExtractedDates) != 1 {
		t.Errorf("metadata not derived: %+v", stored.Meta)
	}
}

func Test_Pipeline_Ingest_DuplicateIsUnchanged(t *testing.T) {
	t.Parallel()
	p, _, ix := newTestPipeline(t, &seqClient{}, nil)
	ctx := context.Background()

	first, err := p.Ingest(ctx, examCandidate("same body"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.Ingest(ctx, examCandidate("same body"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Status != StatusUnchanged {
		t.Errorf("status: got %s, want unchanged", second.Status)
	}
	if second.Notice.ID != first.Notice.ID {
		t.Errorf("unchanged must return the existing record, got ID %d want %d", second.Notice.ID, first.Notice.ID)
	}
	if ix.Size() != 1 {
		t.Errorf("duplicate must not grow the index: size %d", ix.Size())
	}
}

func Test_Pipeline_Ingest_RevisionExtendsChain(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestPipeline(t, &seqClient{}, nil)
	ctx := context.Background()

	v1, err := p.Ingest(ctx, examCandidate("Exams begin 3 November."))
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	v2, err := p.Ingest(ctx, examCandidate("Exams postponed to 10 November."))
	if err != nil {
		t.Fatalf("v2: %v", err)
	}

	if v2.Status != StatusUpdated {
		t.Errorf("status: got %s, want updated", v2.Status)
	}
	if v2.Notice.Version != 2 || v2.Notice.Supersedes != v1.Notice.ID {
		t.Errorf("chain: version=%d supersedes=%d", v2.Notice.Version, v2.Notice.Supersedes)
	}

	current, err := st.FindCurrentByTitle(ctx, v1.Notice.Title, notice.CategoryExam)
	if err != nil {
		t.Fatalf("current lookup: %v", err)
	}
	if current.ID != v2.Notice.ID {
		t.Errorf("current: got ID %d, want the revision %d", current.ID, v2.Notice.ID)
	}

	// The old slot stays in the index as a stale entry until rebuild.
	if ix.Size() != 2 {
		t.Errorf("index size: got %d, want 2", ix.Size())
	}
}

func Test_Pipeline_Ingest_InfersCategory(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, &seqClient{}, nil)

	res, err := p.Ingest(context.Background(), notice.Candidate{
		Title:     "Mid-term examination room allotment",
		Content:   "Room allotment is attached.",
		SourceURL: "https://notices.example.edu/exam/rooms",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Notice.Category != notice.CategoryExam {
		t.Errorf("category: got %s, want exam", res.Notice.Category)
	}
}

func Test_Pipeline_Ingest_EmbedFailureKeepsRecord(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestPipeline(t, &seqClient{err: errors.New("backend down")}, nil)
	ctx := context.Background()

	res, err := p.Ingest(ctx, examCandidate("body"))
	if err != nil {
		t.Fatalf("ingest must succeed despite embedding failure: %v", err)
	}
	if res.Status != StatusCreated {
		t.Errorf("status: got %s", res.Status)
	}
	if ix.Size() != 0 {
		t.Errorf("index must stay empty, size %d", ix.Size())
	}

	stored, err := st.FindCurrentByTitle(ctx, res.Notice.Title, notice.CategoryExam)
	if err != nil || stored == nil {
		t.Fatalf("record must be persisted: %v, %v", stored, err)
	}
	if stored.VectorSlot != -1 {
		t.Errorf("slot: got %d, want -1 (unindexed)", stored.VectorSlot)
	}
}

func Test_Pipeline_IngestBatch_Stats(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, &seqClient{}, nil)

	cands := []notice.Candidate{
		examCandidate("body one"),
		examCandidate("body one"), // duplicate of the first
		{Title: "", Content: "no title"},
		{Title: "Holiday List 2026", Content: "Holidays attached.", Category: notice.CategoryHoliday},
	}
	stats, err := p.IngestBatch(context.Background(), cands)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := BatchStats{Created: 2, Unchanged: 1, Failed: 1, Indexed: 2}
	if *stats != want {
		t.Errorf("stats: got %+v, want %+v", *stats, want)
	}
}

func Test_Pipeline_IngestBatch_InvalidatesCache(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, &seqClient{}, nil)
	c := cache.New(cache.Config{})
	defer c.Close()
	p.cache = c

	c.Put("when are the exams?", cache.Entry{
		Answer:  "3 November",
		Sources: []cache.Source{{Title: "old schedule", Category: notice.CategoryExam}},
	})

	if _, err := p.IngestBatch(context.Background(), []notice.Candidate{examCandidate("new schedule")}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, ok := c.Get("when are the exams?"); ok {
		t.Error("cached exam answer must be invalidated by an exam ingest")
	}
	if _, ok := c.LastIngest()[notice.CategoryExam]; !ok {
		t.Error("last ingest time not recorded")
	}
}

func Test_Pipeline_RebuildIndex(t *testing.T) {
	t.Parallel()
	p, st, ix := newTestPipeline(t, &seqClient{}, nil)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, examCandidate("v1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, examCandidate("v2")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, notice.Candidate{Title: "Holiday List", Content: "holidays", Category: notice.CategoryHoliday}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ix.Size() != 3 {
		t.Fatalf("pre-rebuild size: got %d, want 3 (one stale)", ix.Size())
	}

	n, err := p.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 2 {
		t.Errorf("rebuilt notices: got %d, want 2 current", n)
	}
	if ix.Size() != 2 {
		t.Errorf("post-rebuild size: got %d, want 2", ix.Size())
	}

	current, err := st.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	for i, rec := range current {
		if rec.VectorSlot != int64(i) {
			t.Errorf("record %d: slot %d, want %d", rec.ID, rec.VectorSlot, i)
		}
	}
}

func Test_Pipeline_Prune(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestPipeline(t, &seqClient{}, &Config{KeepVersions: 2})
	ctx := context.Background()

	for _, body := range []string{"v1", "v2", "v3", "v4"} {
		if _, err := p.Ingest(ctx, examCandidate(body)); err != nil {
			t.Fatalf("ingest %s: %v", body, err)
		}
	}

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted: got %d, want 2", deleted)
	}

	current, err := st.FindCurrentByTitle(ctx, "End-Semester Exam Schedule", notice.CategoryExam)
	if err != nil || current == nil {
		t.Fatalf("current survives prune: %v, %v", current, err)
	}
	if current.Version != 4 {
		t.Errorf("current version: got %d, want 4", current.Version)
	}
}
