package app

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldASCII = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases, folds accents, drops anything outside [a-z0-9_ -],
// collapses runs of spaces and hyphens into one hyphen and trims "-_".
func Slugify(s string) string {
	return slugWith(s, '-')
}

// token is Slugify with '_' as separator, for synthesized external IDs.
func token(s string) string {
	return slugWith(s, '_')
}

func slugWith(s string, sep rune) string {
	folded, _, err := transform.String(foldASCII, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			if pending && b.Len() > 0 {
				b.WriteRune(sep)
			}
			pending = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pending = true
		}
	}
	return strings.Trim(b.String(), "-_")
}
