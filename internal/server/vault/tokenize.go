package vault

import (
	"strings"
	"unicode"
)

// normalize case-folds s and strips punctuation so that indexing and
// querying agree on token boundaries. Symmetry between the two is what
// guarantees that a query matches content ingested with different casing.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenize splits normalized text into index tokens.
func tokenize(s string) []string {
	return strings.Fields(normalize(s))
}
