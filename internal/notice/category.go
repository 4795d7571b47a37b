package notice

import (
	"net/url"
	"strings"
)

// titleKeywords maps title substrings to the category they imply, checked
// in order so the more specific signals win.
var titleKeywords = []struct {
	keyword  string
	category Category
}{
	{"exam", CategoryExam},
	{"examination", CategoryExam},
	{"result", CategoryExam},
	{"admit card", CategoryExam},
	{"holiday", CategoryHoliday},
	{"vacation", CategoryHoliday},
	{"semester", CategoryAcademic},
	{"syllabus", CategoryAcademic},
	{"curriculum", CategoryAcademic},
	{"registration", CategoryAcademic},
	{"timetable", CategoryAcademic},
}

// InferCategory returns a best-effort category for a notice from its
// source URL and title. Explicit categories supplied by the caller take
// precedence over inference; this is the fallback when a candidate omits
// one. Unknown inputs resolve to CategoryGeneral.
//
// Recognised URL patterns:
//
//	coe.{domain}/...          examination cell feeds
//	{domain}/notices/holidays academic calendar feeds
//	{domain}/academics/...    academic office feeds
func InferCategory(sourceURL, title string) Category {
	if c, ok := inferFromURL(sourceURL); ok {
		return c
	}
	lower := strings.ToLower(title)
	for _, kw := range titleKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.category
		}
	}
	return CategoryGeneral
}

// inferFromURL inspects the source URL's host and path segments.
func inferFromURL(rawURL string) (Category, bool) {
	if rawURL == "" {
		return "", false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	host := strings.ToLower(parsed.Hostname())
	path := strings.ToLower(parsed.Path)

	switch {
	case strings.HasPrefix(host, "coe.") || strings.Contains(path, "/exam"):
		return CategoryExam, true
	case strings.Contains(path, "/holiday"):
		return CategoryHoliday, true
	case strings.Contains(path, "/academic"):
		return CategoryAcademic, true
	case strings.Contains(path, "/notice"):
		return CategoryGeneral, true
	}
	return "", false
}
