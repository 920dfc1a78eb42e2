package reference

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalName converts a file stem into an identity name. macOS stores file names
// decomposed (NFD), so names are recomposed to keep "Jiří" from two sources equal.
func CanonicalName(stem string) string {
	return norm.NFC.String(strings.TrimSpace(stem))
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizePersonName normalizes a name for comparison (lowercase, no diacritics, spaces for dashes and underscores).
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return name
}

// FilterNames returns the names whose normalized form contains the normalized query.
func FilterNames(names []string, query string) []string {
	q := NormalizePersonName(query)
	out := []string{}
	for _, n := range names {
		if strings.Contains(NormalizePersonName(n), q) {
			out = append(out, n)
		}
	}
	return out
}
