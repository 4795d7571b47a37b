package notice

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// datePatterns match the date shapes commonly seen in notice bodies.
// Each pattern pairs with the layouts tried against its matches.
var datePatterns = []struct {
	re      *regexp.Regexp
	layouts []string
}{
	// 31/12/2025, 31-12-2025, 31/12/25 (day first, the house style)
	{
		re:      regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
		layouts: []string{"02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006", "02/01/06", "02-01-06"},
	},
	// 2025-12-31, 2025/12/31
	{
		re:      regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}`),
		layouts: []string{"2006-01-02", "2006-1-2", "2006/01/02", "2006/1/2"},
	},
	// 15 January 2025, 3rd November 2025
	{
		re:      regexp.MustCompile(`(?i)\d{1,2}(?:st|nd|rd|th)?\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4}`),
		layouts: []string{"2 January 2006", "2 Jan 2006"},
	},
	// January 15, 2025 / Nov 3 2025
	{
		re:      regexp.MustCompile(`(?i)(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}`),
		layouts: []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006"},
	},
}

var ordinalSuffix = regexp.MustCompile(`(?i)(\d{1,2})(st|nd|rd|th)`)

// ExtractDates scans text for calendar dates and returns them parsed,
// deduplicated, and sorted ascending. Unparseable matches are skipped;
// extraction is best-effort and never fails.
func ExtractDates(text string) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, p := range datePatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if digitAdjacent(text, loc[0], loc[1]) {
				continue
			}
			if t, ok := parseDate(text[loc[0]:loc[1]], p.layouts); ok {
				seen[t] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ParseDate parses a single date string against the known layouts, for
// boundary inputs like search from/to parameters. RFC 3339 timestamps
// are accepted as well.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	for _, p := range datePatterns {
		if t, ok := parseDate(s, p.layouts); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// digitAdjacent reports whether the match at [start, end) borders another
// digit, meaning it is a fragment of a longer number rather than a date of
// its own: the day-first pattern would otherwise pick the "25-11-03" tail
// out of "2025-11-03" and parse it as a phantom 2003 date.
func digitAdjacent(text string, start, end int) bool {
	if start > 0 && text[start-1] >= '0' && text[start-1] <= '9' {
		return true
	}
	if end < len(text) && text[end] >= '0' && text[end] <= '9' {
		return true
	}
	return false
}

func parseDate(s string, layouts []string) (time.Time, bool) {
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// InDateRange reports whether t falls inside the inclusive [from, to]
// range. Zero bounds are open.
func InDateRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
