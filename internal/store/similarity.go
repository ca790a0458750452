package store

import (
	"strings"
	"unicode"
)

// jaccardThreshold is the word-set overlap above which two messages count
// as the same message delivered twice.
const jaccardThreshold = 0.9

// nearDuplicate reports whether a and b are close enough in wording to be
// the same message. Texts whose lengths differ by more than 30% of the
// longer text are never duplicates, which skips the set math for the
// common case.
func nearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	la, lb := len(a), len(b)
	longer := la
	if lb > la {
		longer = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > 0.3*float64(longer) {
		return false
	}

	return jaccard(a, b) > jaccardThreshold
}

func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// wordSet tokenizes to lowercase words with surrounding punctuation
// stripped, so "friend!" and "friend" compare equal.
func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			set[w] = true
		}
	}
	return set
}
