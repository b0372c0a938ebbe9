// Package textnorm normalizes free text typed by customers before it is
// compared with keywords, choices and condition values.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold trims, case-folds and strips diacritics: "  Preço " -> "preco".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	return strings.ToLower(strings.TrimSpace(folded))
}

// Words folds s and reduces it to space-separated words, dropping punctuation:
// "What's the PRICE?!" -> "what s the price".
func Words(s string) string {
	folded := Fold(s)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	return strings.Join(fields, " ")
}

// ContainsAny reports whether text contains any keyword as whole words:
// "price" matches "the price?" but not "priceless". Keywords that normalize
// to nothing are ignored.
func ContainsAny(text string, keywords []string) bool {
	words := " " + Words(text) + " "

	for _, keyword := range keywords {
		k := Words(keyword)
		if k == "" {
			continue
		}

		if strings.Contains(words, " "+k+" ") {
			return true
		}
	}

	return false
}

// EqualsAny reports whether text equals any of the candidates after Words.
func EqualsAny(text string, candidates []string) bool {
	words := Words(text)
	if words == "" {
		return false
	}

	for _, candidate := range candidates {
		if Words(candidate) == words {
			return true
		}
	}

	return false
}
