// Package notice defines the core data model for the noticebot service:
// the versioned Notice record, the Candidate input shape used by the
// ingestion pipeline, the Category taxonomy, and the content-analysis
// helpers (hashing, date extraction, category inference) the rest of the
// system builds on.
package notice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Category classifies a notice by the feed it originates from.
type Category string

// Known notice categories. CategoryGeneral doubles as the fallback when
// inference cannot do better.
const (
	CategoryGeneral  Category = "general"
	CategoryExam     Category = "exam"
	CategoryAcademic Category = "academic"
	CategoryHoliday  Category = "holiday"
)

// Categories lists every known category in a stable order, for stats
// endpoints and validation.
var Categories = []Category{CategoryGeneral, CategoryExam, CategoryAcademic, CategoryHoliday}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryExam, CategoryAcademic, CategoryHoliday:
		return true
	}
	return false
}

// Metadata holds derived content-analysis fields computed at ingest time.
type Metadata struct {
	// WordCount is the number of whitespace-separated words in the content.
	WordCount int `json:"word_count"`
	// ExtractedDates are the calendar dates mentioned in the content,
	// deduplicated and sorted ascending.
	ExtractedDates []time.Time `json:"extracted_dates,omitempty"`
}

// Notice is a single versioned notice record as persisted by the store.
// Records form version chains keyed by (Title, Category): at most one
// record per chain has Current=true, and superseded records point at
// their replacement through the store's supersedes column.
type Notice struct {
	// ID is the store-assigned identifier. Zero until persisted.
	ID int64 `json:"id"`
	// Title is the notice headline, also the version-chain key
	// together with Category.
	Title string `json:"title"`
	// Content is the full plain-text body.
	Content string `json:"content"`
	// Category classifies the notice feed.
	Category Category `json:"category"`
	// SourceURL is the page the notice was collected from.
	SourceURL string `json:"source_url"`
	// PublishedAt is the notice's publication date.
	PublishedAt time.Time `json:"published_at"`
	// IngestedAt is when this version entered the store.
	IngestedAt time.Time `json:"ingested_at"`
	// ContentHash is the hex SHA-256 of Title+Content, the dedup key
	// together with Category.
	ContentHash string `json:"content_hash"`
	// Attachments lists URLs of files attached to the notice.
	Attachments []string `json:"attachments,omitempty"`
	// Meta carries derived content-analysis fields.
	Meta Metadata `json:"metadata"`
	// Version is the 1-based position in the version chain.
	Version int `json:"version"`
	// Current marks the latest version of its chain.
	Current bool `json:"is_current"`
	// Supersedes is the ID of the previous version, zero for v1.
	Supersedes int64 `json:"supersedes,omitempty"`
	// VectorSlot is the index slot holding this record's embedding,
	// or -1 when the record has no vector (embedding failed or the
	// record was superseded before the last rebuild).
	VectorSlot int64 `json:"vector_slot"`
}

// Candidate is the raw input shape accepted by the ingestion pipeline,
// before hashing, analysis, and version resolution.
type Candidate struct {
	// Title is the notice headline. Required.
	Title string `json:"title"`
	// Content is the plain-text body. Required.
	Content string `json:"content"`
	// Category classifies the notice. When empty or unknown it is
	// inferred from SourceURL and Title.
	Category Category `json:"category,omitempty"`
	// SourceURL is where the notice was collected from.
	SourceURL string `json:"source_url,omitempty"`
	// PublishedAt is the publication date; the ingest time is used
	// when zero.
	PublishedAt time.Time `json:"published_at,omitempty"`
	// Attachments lists attached file URLs.
	Attachments []string `json:"attachments,omitempty"`
}

// Validate checks that the candidate carries the required fields.
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("notice: candidate title is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("notice: candidate content is required")
	}
	if c.Category != "" && !c.Category.Valid() {
		return fmt.Errorf("notice: unknown category %q", c.Category)
	}
	return nil
}

// ContentHash computes the dedup hash for a title/content pair: the hex
// SHA-256 of the concatenation. Two notices with the same hash in the
// same category are the same document.
func ContentHash(title, content string) string {
	sum := sha256.Sum256([]byte(title + content))
	return hex.EncodeToString(sum[:])
}

// WordCount counts whitespace-separated words in s.
func WordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			n++
		}
	}
	return n
}

// Analyze computes the derived metadata for a notice body.
func Analyze(content string) Metadata {
	return Metadata{
		WordCount:      WordCount(content),
		ExtractedDates: ExtractDates(content),
	}
}

// Excerpt returns the first n characters of the content with an ellipsis
// when truncated, as used in search API responses. The cut never splits
// a multi-byte rune.
func (n *Notice) Excerpt(max int) string {
	if len(n.Content) <= max {
		return n.Content
	}
	for max > 0 && !utf8.RuneStart(n.Content[max]) {
		max--
	}
	return n.Content[:max] + "..."
}
