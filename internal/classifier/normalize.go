package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// normalize folds full-width forms to their narrow equivalents (＝ → =, ２ → 2)
// and lower-cases the result.
func normalize(s string) string {
	return strings.ToLower(width.Fold.String(s))
}

// keywords splits text on whitespace and punctuation and keeps the distinct
// tokens of at least minKeywordLen runes that are not stop words, in order of
// first appearance.
func keywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < minKeywordLen || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
