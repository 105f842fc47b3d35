package insights

import (
	"strings"
	"unicode"
)

// similarityThreshold is the shared-word ratio above which two titles are
// considered the same product family
const similarityThreshold = 0.7

// Similar reports fuzzy title/SKU similarity: a normalized substring match
// or a shared-word ratio above the threshold. Used to decide whether a
// market record is already served by the company catalog.
func Similar(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return sharedWordRatio(strings.Fields(na), strings.Fields(nb)) > similarityThreshold
}

// sharedWordRatio is the share of words in the shorter title that also
// appear in the longer one. The shorter side as denominator keeps short
// SKU-like strings comparable against long marketplace titles.
func sharedWordRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	set := make(map[string]struct{}, len(b))
	for _, w := range b {
		set[w] = struct{}{}
	}

	shared := 0
	for _, w := range a {
		if _, ok := set[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

// normalize lowercases and collapses every non-alphanumeric run into a
// single space
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			sb.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}
