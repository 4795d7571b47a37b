package embedder

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Preprocessing limits. The character budget approximates the embedding
// model's token window at roughly 4 characters per token.
const (
	// DefaultMaxTokens is the embedding model's input window.
	DefaultMaxTokens = 384
	// charsPerToken is the rough character-to-token ratio used for budgeting.
	charsPerToken = 4
)

var (
	htmlTag = regexp.MustCompile(`<[^>]*>`)
	// specialChars strips everything outside letters, digits, whitespace,
	// and basic punctuation so markup residue never reaches the model.
	specialChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:()\-]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Preprocess normalizes raw notice text for embedding: markup is
// stripped, HTML entities decoded, whitespace collapsed, special
// characters removed, and the result lowercased and trimmed. An input
// with no surviving content returns the empty string.
func Preprocess(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = specialChars.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(strings.ToLower(text))
}

// Truncate cuts text to roughly maxTokens worth of characters, breaking
// at the last word boundary inside the budget so no word is split. When
// no word boundary exists the cut backs off to a rune boundary instead,
// so the result is always valid UTF-8.
func Truncate(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if last := strings.LastIndexByte(cut, ' '); last > 0 {
		return cut[:last]
	}
	for maxChars > 0 && !utf8.RuneStart(text[maxChars]) {
		maxChars--
	}
	return text[:maxChars]
}
