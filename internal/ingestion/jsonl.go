package ingestion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opennotice/noticebot/internal/notice"
)

// maxLineBytes bounds a single JSONL record; notices are text documents,
// not blobs.
const maxLineBytes = 1 << 20

// LoadCandidates reads notice candidates from a JSONL file: one JSON
// object per line, blank lines ignored.
func LoadCandidates(path string) ([]notice.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	cands, err := ReadCandidates(f)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %s: %w", path, err)
	}
	return cands, nil
}

// ReadCandidates decodes JSONL candidates from r. Malformed lines fail
// the whole read with their line number, so bad feeds are caught before
// any record is ingested.
func ReadCandidates(r io.Reader) ([]notice.Candidate, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var cands []notice.Candidate
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c notice.Candidate
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cands = append(cands, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line, err)
	}
	return cands, nil
}
