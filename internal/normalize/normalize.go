// Package normalize canonicalizes person names for cross-provider matching.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritics so "Muñoz" and "Munoz" compare equal.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var honorifics = map[string]bool{
	"hon": true, "dr": true, "mr": true, "mrs": true, "ms": true,
	"sen": true, "senator": true, "rep": true, "representative": true,
}

var suffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "v": true,
}

// Name canonicalizes a person name for matching: diacritics
// stripped, lowercased, punctuation removed, honorifics and generational
// suffixes dropped, whitespace collapsed.
func Name(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == ',':
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	out := words[:0]
	for i, w := range words {
		if i == 0 && honorifics[w] {
			continue
		}
		if i == len(words)-1 && suffixes[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// FlipComma converts "Last, First M." display forms into "First M. Last".
func FlipComma(s string) string {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.TrimSpace(parts[1]) + " " + strings.TrimSpace(parts[0]))
}
