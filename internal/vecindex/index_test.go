package vecindex

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestIndex constructs a 3-dimensional index for tests.
func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(3)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return ix
}

func Test_Index_New_RejectsBadDimension(t *testing.T) {
	t.Parallel()
	for _, dim := range []int{0, -1} {
		if _, err := New(dim); err == nil {
			t.Errorf("New(%d): want error", dim)
		}
	}
}

func Test_Index_Add_AssignsDenseSlots(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	for i := range 3 {
		slot, err := ix.Add([]float32{float32(i), 0, 0}, int64(100+i))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if slot != int64(i) {
			t.Errorf("slot: got %d, want %d", slot, i)
		}
	}
	if ix.Size() != 3 {
		t.Errorf("size: got %d, want 3", ix.Size())
	}
}

func Test_Index_Add_RejectsWrongDimension(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	if _, err := ix.Add([]float32{1, 2}, 1); err == nil {
		t.Error("want dimension error for short vector")
	}
	if _, err := ix.Add([]float32{1, 2, 3, 4}, 1); err == nil {
		t.Error("want dimension error for long vector")
	}
	if ix.Size() != 0 {
		t.Errorf("rejected add changed size: %d", ix.Size())
	}
}

func Test_Index_AddBatch_AllOrNothing(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	_, err := ix.AddBatch(
		[][]float32{{1, 0, 0}, {0, 1}},
		[]int64{1, 2},
	)
	if err == nil {
		t.Fatal("want error for mixed-dimension batch")
	}
	if ix.Size() != 0 {
		t.Errorf("failed batch left %d vectors behind", ix.Size())
	}

	slots, err := ix.AddBatch(
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]int64{1, 2},
	)
	if err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if len(slots) != 2 || slots[0] != 0 || slots[1] != 1 {
		t.Errorf("slots: got %v, want [0 1]", slots)
	}
}

func Test_Index_Search_OrdersByDistance(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	// Distances from query (1,0,0): id 1 → 0, id 2 → 2, id 3 → 1.
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	mustAdd(t, ix, []float32{0, 1, 0}, 2)
	mustAdd(t, ix, []float32{1, 1, 0}, 3)

	hits, err := ix.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits: got %d, want 3", len(hits))
	}
	wantIDs := []int64{1, 3, 2}
	for i, want := range wantIDs {
		if hits[i].ID != want {
			t.Errorf("hit[%d].ID: got %d, want %d", i, hits[i].ID, want)
		}
	}
	if hits[0].Distance != 0 {
		t.Errorf("exact match distance: got %f, want 0", hits[0].Distance)
	}
	if hits[1].Distance != 1 || hits[2].Distance != 2 {
		t.Errorf("distances: got %f, %f, want 1, 2", hits[1].Distance, hits[2].Distance)
	}
}

func Test_Index_Search_NeverPads(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)

	hits, err := ix.Search([]float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits: got %d, want 1 (no padding)", len(hits))
	}
}

func Test_Index_Search_EmptyIndex(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	hits, err := ix.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("search empty: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits from empty index: %v", hits)
	}
}

func Test_Index_Search_RejectsBadInput(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	if _, err := ix.Search([]float32{1, 0}, 5); err == nil {
		t.Error("want dimension error")
	}
	if _, err := ix.Search([]float32{1, 0, 0}, 0); err == nil {
		t.Error("want error for k=0")
	}
}

func Test_Index_Rebuild_ReplacesContents(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	mustAdd(t, ix, []float32{0, 1, 0}, 2)

	err := ix.Rebuild([][]float32{{0, 0, 1}}, []int64{42})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if ix.Size() != 1 {
		t.Fatalf("size after rebuild: got %d, want 1", ix.Size())
	}

	hits, err := ix.Search([]float32{0, 0, 1}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 42 || hits[0].Slot != 0 {
		t.Errorf("post-rebuild hit: %+v", hits)
	}
}

func Test_Index_Rebuild_RejectsBadBatchWithoutChanges(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)

	err := ix.Rebuild([][]float32{{1, 2}}, []int64{9})
	if err == nil {
		t.Fatal("want dimension error")
	}
	if ix.Size() != 1 {
		t.Errorf("failed rebuild changed the index: size %d", ix.Size())
	}
}

func Test_Index_SaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "notices.vec")
	mapPath := filepath.Join(dir, "notices.map.json")

	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 10)
	mustAdd(t, ix, []float32{0, 1, 0}, 20)

	if err := ix.Save(vecPath, mapPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(discardLogger(), vecPath, mapPath, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size: got %d, want 2", loaded.Size())
	}

	hits, err := loaded.Search([]float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("search loaded: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 20 || hits[0].Distance != 0 {
		t.Errorf("loaded search hit: %+v", hits)
	}
}

func Test_Index_Load_MissingFilesStartEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	ix, err := Load(discardLogger(), filepath.Join(dir, "none.vec"), filepath.Join(dir, "none.map.json"), 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ix.Size() != 0 {
		t.Errorf("size: got %d, want 0", ix.Size())
	}
}

func Test_Index_Load_DiscardsMismatchedPair(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "notices.vec")
	mapPath := filepath.Join(dir, "notices.map.json")

	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	mustAdd(t, ix, []float32{0, 1, 0}, 2)
	if err := ix.Save(vecPath, mapPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Corrupt the mapping so it no longer agrees with the vectors.
	if err := os.WriteFile(mapPath, []byte(`{"dim":3,"ids":[1]}`), 0o644); err != nil {
		t.Fatalf("corrupt mapping: %v", err)
	}

	loaded, err := Load(discardLogger(), vecPath, mapPath, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != 0 {
		t.Errorf("mismatched pair partially loaded: size %d", loaded.Size())
	}
}

func Test_Index_Load_DiscardsCorruptMapping(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "notices.vec")
	mapPath := filepath.Join(dir, "notices.map.json")

	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	if err := ix.Save(vecPath, mapPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(mapPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt mapping: %v", err)
	}

	loaded, err := Load(discardLogger(), vecPath, mapPath, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != 0 {
		t.Errorf("corrupt pair partially loaded: size %d", loaded.Size())
	}
}

func Test_Index_Load_DiscardsDimensionMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "notices.vec")
	mapPath := filepath.Join(dir, "notices.map.json")

	ix := newTestIndex(t)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	if err := ix.Save(vecPath, mapPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(discardLogger(), vecPath, mapPath, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != 0 {
		t.Errorf("dimension-mismatched pair loaded: size %d", loaded.Size())
	}
	if loaded.Dim() != 4 {
		t.Errorf("loaded dim: got %d, want 4", loaded.Dim())
	}
}

func Test_Index_Save_EmptyIndex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "notices.vec")
	mapPath := filepath.Join(dir, "notices.map.json")

	ix := newTestIndex(t)
	if err := ix.Save(vecPath, mapPath); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	loaded, err := Load(discardLogger(), vecPath, mapPath, 3)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if loaded.Size() != 0 {
		t.Errorf("size: got %d, want 0", loaded.Size())
	}
}

func mustAdd(t *testing.T, ix *Index, vec []float32, id int64) {
	t.Helper()
	if _, err := ix.Add(vec, id); err != nil {
		t.Fatalf("add: %v", err)
	}
}
