// Package tokenizer turns page text into per-page term counts.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// Tokens splits text on Unicode word boundaries (UAX #29) and returns, in
// order, the lower-cased words made only of ASCII letters and digits.
// Words that UAX #29 joins across punctuation ("don't", "example.com",
// "3.14", "snake_case") are split into their letter and digit runs first.
// Runs with any non-ASCII character, such as "café", are dropped.
func Tokens(text string) []string {
	var out []string
	state := -1
	var word string
	for len(text) > 0 {
		word, text, state = uniseg.FirstWordInString(text, state)
		for _, part := range strings.FieldsFunc(word, isSeparator) {
			if isASCIIAlnum(part) {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}

// Aggregate counts the retained tokens of text. No stemming or stop-word
// removal is applied.
func Aggregate(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range Tokens(text) {
		counts[tok]++
	}
	return counts
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isASCIIAlnum(word string) bool {
	if word == "" {
		return false
	}
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
