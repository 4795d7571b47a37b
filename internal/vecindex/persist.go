package vecindex

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// vectorMagic identifies the vector file format; bump vectorFormatV when
// the layout changes.
const (
	vectorMagic   = "NBVX"
	vectorFormatV = uint32(1)
)

// mapping is the JSON sidecar pairing each slot with its notice ID.
type mapping struct {
	// Dim is the vector dimensionality the vectors were written with.
	Dim int `json:"dim"`
	// IDs maps slot (the array position) to notice ID.
	IDs []int64 `json:"ids"`
}

// Save writes the index contents to vectorPath and the slot mapping to
// mappingPath. Both files are written via a temp file and rename so a
// crash mid-save never leaves a half-written half of the pair.
func (ix *Index) Save(vectorPath, mappingPath string) error {
	vectors, ids := ix.snapshot()

	if err := writeVectors(vectorPath, ix.dim, vectors); err != nil {
		return err
	}
	if err := writeMapping(mappingPath, ix.dim, ids); err != nil {
		return err
	}
	return nil
}

// Load reads an index/mapping pair from disk into a new Index of the
// given dimensionality. The pair is trusted only as a whole: if either
// file is missing or unreadable, or the vector count disagrees with the
// mapping length, or the stored dimensionality differs from dim, both
// halves are discarded and an empty index is returned. A vector whose
// identity is unknown can never be hydrated, so keeping a mismatched
// pair buys nothing. The discard is logged at WARN; Load only returns
// an error for an invalid dim.
func Load(log *slog.Logger, vectorPath, mappingPath string, dim int) (*Index, error) {
	ix, err := New(dim)
	if err != nil {
		return nil, err
	}

	storedDim, vectors, err := readVectors(vectorPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("discarding vector index: unreadable vector file",
				slog.String("path", vectorPath), slog.String("error", err.Error()))
		}
		return ix, nil
	}
	m, err := readMapping(mappingPath)
	if err != nil {
		log.Warn("discarding vector index: unreadable mapping",
			slog.String("path", mappingPath), slog.String("error", err.Error()))
		return ix, nil
	}

	if storedDim != dim || m.Dim != dim {
		log.Warn("discarding vector index: dimension mismatch",
			slog.Int("stored", storedDim), slog.Int("mapping", m.Dim), slog.Int("want", dim))
		return ix, nil
	}
	if len(vectors) != len(m.IDs)*dim {
		log.Warn("discarding vector index: vector count disagrees with mapping",
			slog.Int("vectors", len(vectors)/dim), slog.Int("mapped", len(m.IDs)))
		return ix, nil
	}

	ix.vectors = vectors
	ix.ids = m.IDs
	log.Info("vector index loaded",
		slog.Int("vectors", len(m.IDs)), slog.Int("dim", dim))
	return ix, nil
}

// writeVectors persists the flattened vectors with a small header:
// magic, format version, dim, count, then little-endian float32 data.
func writeVectors(path string, dim int, vectors []float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vecindex: save: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*")
	if err != nil {
		return fmt.Errorf("vecindex: save: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	count := 0
	if dim > 0 {
		count = len(vectors) / dim
	}
	header := make([]byte, 16)
	copy(header, vectorMagic)
	binary.LittleEndian.PutUint32(header[4:], vectorFormatV)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))   //nolint:gosec // dim is bounded
	binary.LittleEndian.PutUint32(header[12:], uint32(count)) //nolint:gosec // count is bounded
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("vecindex: save: write header: %w", err)
	}

	buf := make([]byte, 4*len(vectors))
	for i, v := range vectors {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("vecindex: save: write vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vecindex: save: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vecindex: save: rename: %w", err)
	}
	return nil
}

func readVectors(path string) (int, []float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < 16 || string(data[:4]) != vectorMagic {
		return 0, nil, fmt.Errorf("vecindex: load: bad vector file header")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != vectorFormatV {
		return 0, nil, fmt.Errorf("vecindex: load: unsupported format version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:]))
	count := int(binary.LittleEndian.Uint32(data[12:]))
	body := data[16:]
	if dim <= 0 || len(body) != 4*dim*count {
		return 0, nil, fmt.Errorf("vecindex: load: vector file truncated (want %d bytes, have %d)", 4*dim*count, len(body))
	}

	vectors := make([]float32, dim*count)
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return dim, vectors, nil
}

// writeMapping persists the slot mapping as JSON via temp file + rename.
func writeMapping(path string, dim int, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(mapping{Dim: dim, IDs: ids})
	if err != nil {
		return fmt.Errorf("vecindex: save: encode mapping: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vecindex: save: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mapping-*")
	if err != nil {
		return fmt.Errorf("vecindex: save: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vecindex: save: write mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vecindex: save: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vecindex: save: rename mapping: %w", err)
	}
	return nil
}

func readMapping(path string) (*mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("vecindex: load: decode mapping: %w", err)
	}
	return &m, nil
}
