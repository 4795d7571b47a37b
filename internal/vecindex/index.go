// Package vecindex implements the local vector index used for semantic
// retrieval: a flat squared-L2 index over dense float32 vectors, paired
// with a slot-to-notice-ID mapping. Slots are append-only and dense;
// a slot's vector never changes, and stale slots (whose notice has been
// superseded) are skipped at hydration time and reclaimed by a rebuild.
//
// The index and its mapping are persisted together as a matched pair;
// loading trusts the pair only when both halves agree (see persist.go).
package vecindex

import (
	"fmt"
	"sort"
	"sync"
)

// Hit is a single search result: the slot that matched, the notice it
// maps to, and the squared L2 distance (smaller is closer).
type Hit struct {
	// Slot is the index slot of the matched vector.
	Slot int64
	// ID is the notice ID the slot maps to.
	ID int64
	// Distance is the squared L2 distance from the query vector.
	Distance float32
}

// Index is a flat squared-L2 vector index. Safe for concurrent use:
// searches take a read lock, mutations a write lock.
type Index struct {
	mu sync.RWMutex
	// dim is the vector dimensionality, fixed at construction.
	dim int
	// vectors holds all slot vectors flattened row-major; slot i spans
	// vectors[i*dim : (i+1)*dim].
	vectors []float32
	// ids maps slot to notice ID, always len(vectors)/dim long.
	ids []int64
}

// New constructs an empty index for vectors of the given dimensionality.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vecindex: dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim}, nil
}

// Dim returns the vector dimensionality.
func (ix *Index) Dim() int { return ix.dim }

// Size returns the number of vectors currently in the index.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Add appends a single vector and returns its assigned slot.
func (ix *Index) Add(vec []float32, id int64) (int64, error) {
	if len(vec) != ix.dim {
		return 0, fmt.Errorf("vecindex: add: vector has dimension %d, index expects %d", len(vec), ix.dim)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	slot := int64(len(ix.ids))
	ix.vectors = append(ix.vectors, vec...)
	ix.ids = append(ix.ids, id)
	return slot, nil
}

// AddBatch appends vectors in order and returns the slot assigned to
// each. Either all vectors are added or none: a dimension mismatch
// anywhere rejects the whole batch.
func (ix *Index) AddBatch(vecs [][]float32, ids []int64) ([]int64, error) {
	if len(vecs) != len(ids) {
		return nil, fmt.Errorf("vecindex: add batch: %d vectors for %d ids", len(vecs), len(ids))
	}
	for i, v := range vecs {
		if len(v) != ix.dim {
			return nil, fmt.Errorf("vecindex: add batch: vector %d has dimension %d, index expects %d", i, len(v), ix.dim)
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	slots := make([]int64, len(vecs))
	for i, v := range vecs {
		slots[i] = int64(len(ix.ids))
		ix.vectors = append(ix.vectors, v...)
		ix.ids = append(ix.ids, ids[i])
	}
	return slots, nil
}

// Search returns the k nearest vectors to the query by squared L2
// distance, closest first. When fewer than k vectors exist, all are
// returned; the result is never padded. An empty index returns an
// empty slice, not an error.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("vecindex: search: query has dimension %d, index expects %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("vecindex: search: k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.ids)
	if n == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, n)
	for slot := range n {
		row := ix.vectors[slot*ix.dim : (slot+1)*ix.dim]
		var d float32
		for j, q := range query {
			diff := q - row[j]
			d += diff * diff
		}
		hits[slot] = Hit{Slot: int64(slot), ID: ix.ids[slot], Distance: d}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Slot < hits[j].Slot
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Rebuild atomically replaces the entire index contents. Searches see
// either the old contents or the new, never a mixture. Slot numbers are
// reassigned densely in the order given.
func (ix *Index) Rebuild(vecs [][]float32, ids []int64) error {
	if len(vecs) != len(ids) {
		return fmt.Errorf("vecindex: rebuild: %d vectors for %d ids", len(vecs), len(ids))
	}
	flat := make([]float32, 0, len(vecs)*ix.dim)
	newIDs := make([]int64, len(ids))
	for i, v := range vecs {
		if len(v) != ix.dim {
			return fmt.Errorf("vecindex: rebuild: vector %d has dimension %d, index expects %d", i, len(v), ix.dim)
		}
		flat = append(flat, v...)
		newIDs[i] = ids[i]
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors = flat
	ix.ids = newIDs
	return nil
}

// snapshot copies the index contents under the read lock, for persistence.
func (ix *Index) snapshot() ([]float32, []int64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	vectors := make([]float32, len(ix.vectors))
	copy(vectors, ix.vectors)
	ids := make([]int64, len(ix.ids))
	copy(ids, ix.ids)
	return vectors, ids
}
