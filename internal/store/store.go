// Package store provides the SQLite-backed persistence layer for
// noticebot: the versioned notice store queried by the retrieval
// pipeline, and the per-session chat history injected into the LLM
// context window on subsequent queries.
//
// A single database file holds both tables. SQLite runs in WAL mode with
// a single writer connection, which is plenty for a single-host service.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/opennotice/noticebot/internal/notice"
)

// Store persists versioned notice records. Safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the noticebot database.
// It resolves to ~/.noticebot/noticebot.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".noticebot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "noticebot.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS notices (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    title           TEXT    NOT NULL,
    content         TEXT    NOT NULL,
    category        TEXT    NOT NULL,
    source_url      TEXT    NOT NULL DEFAULT '',
    published_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    ingested_at     INTEGER NOT NULL,
    content_hash    TEXT    NOT NULL,
    attachments     TEXT    NOT NULL DEFAULT '[]',  -- JSON array of URLs
    word_count      INTEGER NOT NULL DEFAULT 0,
    extracted_dates TEXT    NOT NULL DEFAULT '[]',  -- JSON array of RFC3339 dates
    version         INTEGER NOT NULL DEFAULT 1,
    is_current      INTEGER NOT NULL DEFAULT 1,
    supersedes      INTEGER NOT NULL DEFAULT 0,
    vector_slot     INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_notices_hash_category
    ON notices (content_hash, category);
CREATE INDEX IF NOT EXISTS idx_notices_chain
    ON notices (title, category, is_current);
CREATE INDEX IF NOT EXISTS idx_notices_category_current
    ON notices (category, is_current);

CREATE TABLE IF NOT EXISTS chat_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session      TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session_created
    ON chat_history (session, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Insert persists a new notice record and returns its assigned ID.
// The caller is responsible for version/current bookkeeping.
func (s *Store) Insert(ctx context.Context, n *notice.Notice) (int64, error) {
	attachments, err := json.Marshal(emptyIfNil(n.Attachments))
	if err != nil {
		return 0, fmt.Errorf("store: insert: encode attachments: %w", err)
	}
	dates, err := json.Marshal(rfc3339Dates(n.Meta.ExtractedDates))
	if err != nil {
		return 0, fmt.Errorf("store: insert: encode dates: %w", err)
	}

	const q = `
INSERT INTO notices
    (title, content, category, source_url, published_at, ingested_at,
     content_hash, attachments, word_count, extracted_dates,
     version, is_current, supersedes, vector_slot)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		n.Title, n.Content, string(n.Category), n.SourceURL,
		n.PublishedAt.Unix(), n.IngestedAt.Unix(),
		n.ContentHash, string(attachments), n.Meta.WordCount, string(dates),
		n.Version, boolToInt(n.Current), n.Supersedes, n.VectorSlot,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert id: %w", err)
	}
	n.ID = id
	return id, nil
}

// FindCurrentByHash returns the current notice with the given content
// hash and category, or nil when no such record exists.
func (s *Store) FindCurrentByHash(ctx context.Context, hash string, category notice.Category) (*notice.Notice, error) {
	const q = selectCols + ` FROM notices
WHERE content_hash = ? AND category = ? AND is_current = 1 LIMIT 1`
	return s.queryOne(ctx, q, hash, string(category))
}

// FindCurrentByTitle returns the current version of the chain keyed by
// (title, category), or nil when the chain does not exist.
func (s *Store) FindCurrentByTitle(ctx context.Context, title string, category notice.Category) (*notice.Notice, error) {
	const q = selectCols + ` FROM notices
WHERE title = ? AND category = ? AND is_current = 1 LIMIT 1`
	return s.queryOne(ctx, q, title, string(category))
}

// MarkSuperseded clears the current flag on a record, typically just
// before inserting its replacement.
func (s *Store) MarkSuperseded(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notices SET is_current = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: mark superseded %d: %w", id, err)
	}
	return nil
}

// SetVectorSlot records the index slot holding a notice's embedding.
// Pass -1 to mark the record as unindexed.
func (s *Store) SetVectorSlot(ctx context.Context, id, slot int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notices SET vector_slot = ? WHERE id = ?`, slot, id); err != nil {
		return fmt.Errorf("store: set vector slot %d: %w", id, err)
	}
	return nil
}

// Current returns every current notice, for index rebuilds. Ordered by
// ID so rebuilds are deterministic.
func (s *Store) Current(ctx context.Context) ([]*notice.Notice, error) {
	const q = selectCols + ` FROM notices WHERE is_current = 1 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: current: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ByIDs returns the current notices with the given IDs, keyed by ID.
// Superseded or missing IDs are silently absent from the result, which
// is how stale index slots are filtered out during retrieval.
func (s *Store) ByIDs(ctx context.Context, ids []int64) (map[int64]*notice.Notice, error) {
	if len(ids) == 0 {
		return map[int64]*notice.Notice{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	q := selectCols + ` FROM notices WHERE is_current = 1 AND id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: by ids: %w", err)
	}
	defer rows.Close()

	notices, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*notice.Notice, len(notices))
	for _, n := range notices {
		out[n.ID] = n
	}
	return out, nil
}

// SearchParams bound a keyword search over current notices.
type SearchParams struct {
	// Query is matched case-insensitively against title and content.
	// Empty matches everything.
	Query string
	// Category restricts results to one category when non-empty.
	Category notice.Category
	// From and To bound the published date (inclusive); zero is open.
	From time.Time
	To   time.Time
	// Limit caps the page size. Offset skips preceding results.
	Limit  int
	Offset int
}

// Search runs a keyword search over current notices, newest first, and
// returns the total match count alongside the requested page.
func (s *Store) Search(ctx context.Context, p SearchParams) (int, []*notice.Notice, error) {
	where := []string{"is_current = 1"}
	var args []any

	if q := strings.TrimSpace(p.Query); q != "" {
		where = append(where, "(title LIKE ? OR content LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}
	if p.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(p.Category))
	}
	if !p.From.IsZero() {
		where = append(where, "published_at >= ?")
		args = append(args, p.From.Unix())
	}
	if !p.To.IsZero() {
		where = append(where, "published_at <= ?")
		args = append(args, p.To.Unix())
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices WHERE `+cond, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("store: search count: %w", err)
	}

	q := selectCols + ` FROM notices WHERE ` + cond + ` ORDER BY published_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return 0, nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	notices, err := scanAll(rows)
	if err != nil {
		return 0, nil, err
	}
	return total, notices, nil
}

// PruneVersions deletes superseded versions beyond the newest keep per
// (title, category) chain and returns the number of rows removed. The
// current version of a chain is never deleted, whatever keep is.
func (s *Store) PruneVersions(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	const q = `
DELETE FROM notices WHERE is_current = 0 AND id IN (
    SELECT id FROM (
        SELECT id,
               ROW_NUMBER() OVER (
                   PARTITION BY title, category
                   ORDER BY version DESC, id DESC
               ) AS rn
        FROM notices
    ) WHERE rn > ?
)`
	res, err := s.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune versions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune rows affected: %w", err)
	}
	return deleted, nil
}

// CountByCategory returns the number of current notices per category.
func (s *Store) CountByCategory(ctx context.Context) (map[notice.Category]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM notices WHERE is_current = 1 GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("store: count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[notice.Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("store: count scan: %w", err)
		}
		out[notice.Category(cat)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

const selectCols = `
SELECT id, title, content, category, source_url, published_at, ingested_at,
       content_hash, attachments, word_count, extracted_dates,
       version, is_current, supersedes, vector_slot`

// queryOne runs a single-row query, mapping sql.ErrNoRows to (nil, nil).
func (s *Store) queryOne(ctx context.Context, q string, args ...any) (*notice.Notice, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	notices, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(notices) == 0 {
		return nil, nil
	}
	return notices[0], nil
}

// scanAll scans every row produced by a selectCols query.
func scanAll(rows *sql.Rows) ([]*notice.Notice, error) {
	var out []*notice.Notice
	for rows.Next() {
		var (
			n           notice.Notice
			category    string
			published   int64
			ingested    int64
			attachments string
			dates       string
			current     int
		)
		if err := rows.Scan(
			&n.ID, &n.Title, &n.Content, &category, &n.SourceURL,
			&published, &ingested, &n.ContentHash, &attachments,
			&n.Meta.WordCount, &dates, &n.Version, &current,
			&n.Supersedes, &n.VectorSlot,
		); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		n.Category = notice.Category(category)
		n.PublishedAt = time.Unix(published, 0).UTC()
		n.IngestedAt = time.Unix(ingested, 0).UTC()
		n.Current = current == 1
		if err := json.Unmarshal([]byte(attachments), &n.Attachments); err != nil {
			return nil, fmt.Errorf("store: decode attachments for %d: %w", n.ID, err)
		}
		var rfc []string
		if err := json.Unmarshal([]byte(dates), &rfc); err != nil {
			return nil, fmt.Errorf("store: decode dates for %d: %w", n.ID, err)
		}
		for _, ds := range rfc {
			if t, err := time.Parse(time.RFC3339, ds); err == nil {
				n.Meta.ExtractedDates = append(n.Meta.ExtractedDates, t)
			}
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

func rfc3339Dates(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(time.RFC3339)
	}
	return out
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
