package pattern

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	webSuffixRegex = regexp.MustCompile(`\.(co\.uk|com|net|org|io|de|fr|nl|be|eu)\b`)
	referenceRegex = regexp.MustCompile(`(?:\bref\b|\bnr\b|#)\s*[:.]?\s*\d+`)
)

// NormalizeDescription folds a raw statement description into the form used
// for rule matching and duplicate detection.
//
// The result is lowercase, has diacritics removed, has web suffixes and
// reference numbers stripped, and uses single spaces between words.
func NormalizeDescription(raw string) string {
	s := strings.ToLower(stripDiacritics(raw))
	s = webSuffixRegex.ReplaceAllString(s, "")
	s = referenceRegex.ReplaceAllString(s, " ")

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if isReferenceToken(f) {
			continue
		}
		kept = append(kept, f)
	}

	return strings.Join(kept, " ")
}

// isReferenceToken reports whether a token looks like a card mask, invoice or
// reference number rather than part of a merchant name.
func isReferenceToken(token string) bool {
	digits := 0
	for _, r := range token {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 4
}

func stripDiacritics(s string) string {
	// Chained transformers carry state, so one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
