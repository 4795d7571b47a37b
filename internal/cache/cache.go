// Package cache provides the in-process caching layer for noticebot:
// a TTL cache of answered queries keyed by normalized query hash, a
// popularity counter over those queries, per-category last-ingest
// timestamps, and a sliding-window rate limiter for the chat endpoint.
// Everything lives in memory; a restart starts cold, which is acceptable
// for a single-host service.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opennotice/noticebot/internal/notice"
)

// Source is one citation attached to a cached answer.
type Source struct {
	// Title is the cited notice's title.
	Title string `json:"title"`
	// Category is the cited notice's category.
	Category notice.Category `json:"category"`
	// Date is the cited notice's publication date.
	Date time.Time `json:"date"`
	// URL is the cited notice's source URL.
	URL string `json:"url"`
}

// Entry is a cached query response.
type Entry struct {
	// Query is the original (un-normalized) query text.
	Query string `json:"query"`
	// Answer is the generated answer.
	Answer string `json:"answer"`
	// Sources are the citations the answer was grounded on.
	Sources []Source `json:"sources"`
	// Took is how long the un-cached query originally took.
	Took time.Duration `json:"took"`
	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`
}

// PopularQuery pairs a query with how often it has been asked.
type PopularQuery struct {
	// Query is the original query text of the first Track call.
	Query string `json:"query"`
	// Count is the number of times the normalized query was tracked.
	Count int64 `json:"count"`
}

// Cache is the in-process caching layer. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	// ttl is how long cached entries stay valid.
	ttl time.Duration
	// entries maps normalized-query key to cached response.
	entries map[string]*cachedEntry
	// popularity maps normalized-query key to monotonic ask counts.
	// Counts survive cache invalidation: popularity describes demand,
	// not validity.
	popularity map[string]*PopularQuery
	// lastIngest maps category to the last successful ingest time.
	lastIngest map[notice.Category]time.Time
	// windows maps rate-limit identifier to its request timestamps.
	windows map[string][]time.Time
	// rateLimit and rateWindow bound requests per identifier.
	rateLimit  int
	rateWindow time.Duration
	// now is injectable for tests.
	now func() time.Time
	// done stops the eviction goroutine.
	done chan struct{}
}

type cachedEntry struct {
	entry     Entry
	expiresAt time.Time
}

// Config holds the cache construction settings.
type Config struct {
	// TTL is the response cache entry lifetime. Default 1h.
	TTL time.Duration
	// RateLimit is the number of requests allowed per identifier per
	// window. Default 30.
	RateLimit int
	// RateWindow is the sliding-window length. Default 60s.
	RateWindow time.Duration
}

// New constructs a Cache and starts its background eviction loop. Call
// Close to stop the loop.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	c := &Cache{
		ttl:        cfg.TTL,
		entries:    make(map[string]*cachedEntry),
		popularity: make(map[string]*PopularQuery),
		lastIngest: make(map[notice.Category]time.Time),
		windows:    make(map[string][]time.Time),
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Close stops the background eviction loop.
func (c *Cache) Close() {
	close(c.done)
}

// Key derives the cache key for a query: the first 16 hex characters of
// the SHA-256 of the lowercased, trimmed query. Queries differing only
// in case or surrounding whitespace share an entry.
func Key(query string) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached entry for a query, or false when absent or
// expired. Expired entries are removed on access.
func (c *Cache) Get(query string) (Entry, bool) {
	key := Key(query)
	c.mu.Lock()
	defer c.mu.Unlock()

	ce, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().After(ce.expiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return ce.entry, true
}

// Put stores an answer for a query with the configured TTL.
func (c *Cache) Put(query string, e Entry) {
	now := c.now()
	e.Query = query
	e.CachedAt = now

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(query)] = &cachedEntry{entry: e, expiresAt: now.Add(c.ttl)}
}

// InvalidateAll drops every cached response. Popularity counts and rate
// windows are untouched.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*cachedEntry)
	return n
}

// Invalidate drops cached responses affected by a change in the given
// category: every entry citing a source of that category, and every
// entry with no sources at all (an insufficient-information answer may
// become answerable once new notices arrive). Returns the number of
// entries dropped.
func (c *Cache) Invalidate(category notice.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, ce := range c.entries {
		if len(ce.entry.Sources) == 0 {
			delete(c.entries, key)
			n++
			continue
		}
		for _, s := range ce.entry.Sources {
			if s.Category == category {
				delete(c.entries, key)
				n++
				break
			}
		}
	}
	return n
}

// Track records that a query was asked, bumping its popularity count.
// The first tracked spelling of a normalized query is the one reported
// by Popular.
func (c *Cache) Track(query string) {
	key := Key(query)
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.popularity[key]; ok {
		p.Count++
		return
	}
	c.popularity[key] = &PopularQuery{Query: query, Count: 1}
}

// Popular returns the n most-asked queries, most popular first. Ties
// break on query text so the order is stable.
func (c *Cache) Popular(n int) []PopularQuery {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PopularQuery, 0, len(c.popularity))
	for _, p := range c.popularity {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// SetLastIngest records a successful ingest for a category.
func (c *Cache) SetLastIngest(category notice.Category, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastIngest[category] = t
}

// LastIngest returns the last successful ingest time per category.
func (c *Cache) LastIngest() map[notice.Category]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[notice.Category]time.Time, len(c.lastIngest))
	for k, v := range c.lastIngest {
		out[k] = v
	}
	return out
}

// CheckRateLimit records a request for the identifier and reports
// whether it is allowed under the sliding window, plus the number of
// requests currently inside the window (including this one when
// allowed). Rejected requests do not consume window capacity.
func (c *Cache) CheckRateLimit(identifier string) (bool, int) {
	now := c.now()
	cutoff := now.Add(-c.rateWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windows[identifier]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= c.rateLimit {
		c.windows[identifier] = kept
		return false, len(kept)
	}
	kept = append(kept, now)
	c.windows[identifier] = kept
	return true, len(kept)
}

// RetryAfter returns how long the identifier must wait before its next
// request can be allowed. Zero when the identifier is not limited.
func (c *Cache) RetryAfter(identifier string) time.Duration {
	now := c.now()
	cutoff := now.Add(-c.rateWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windows[identifier]
	live := make([]time.Time, 0, len(window))
	for _, t := range window {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) < c.rateLimit {
		return 0
	}
	// The oldest in-window request ages out first.
	return live[0].Sub(cutoff)
}

// Stats describes the cache contents for the stats endpoint.
type Stats struct {
	// Entries is the number of live cached responses.
	Entries int `json:"entries"`
	// TrackedQueries is the number of distinct queries ever tracked.
	TrackedQueries int `json:"tracked_queries"`
}

// Stats returns a snapshot of the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), TrackedQueries: len(c.popularity)}
}

// evictLoop periodically removes expired entries and stale rate windows
// so memory does not grow with one-off queries and clients.
func (c *Cache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

// evict removes expired cache entries and empty rate windows.
func (c *Cache) evict() {
	now := c.now()
	cutoff := now.Add(-c.rateWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ce := range c.entries {
		if now.After(ce.expiresAt) {
			delete(c.entries, key)
		}
	}
	for id, window := range c.windows {
		kept := window[:0]
		for _, t := range window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(c.windows, id)
		} else {
			c.windows[id] = kept
		}
	}
}
