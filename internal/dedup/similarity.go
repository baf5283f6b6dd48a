// Package dedup implements the 4-step global deduplication pipeline for
// the shared job pool.
package dedup

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity thresholds. Design constants: a ratio above HighThreshold is
// an immediate repost match; between the two it is a tentative match and
// the best tentative candidate wins at the end.
const (
	HighThreshold   = 0.85
	MediumThreshold = 0.65

	// maxCompareLen bounds the O(n²) sequence comparison.
	maxCompareLen = 50_000

	// titleOverlapThreshold gates the expensive description comparison.
	titleOverlapThreshold = 0.7
)

// Confidence of a dedup match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9+#]+`)

// titleTokens lowercases and tokenises a job title, dropping noise words
// that appear in almost every title.
func titleTokens(title string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(title), -1) {
		switch tok {
		case "a", "an", "the", "and", "or", "of", "for", "in", "at", "to":
			continue
		}
		out[tok] = true
	}
	return out
}

// TitlesSimilar reports whether two titles overlap enough (normalised
// token overlap against the smaller token set) to justify comparing
// descriptions.
func TitlesSimilar(a, b string) bool {
	ta, tb := titleTokens(a), titleTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	common := 0
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}
	return float64(common)/float64(smaller) >= titleOverlapThreshold
}

// DescriptionRatio computes a longest-common-subsequence ratio over the
// word sequences of two descriptions, each truncated to maxCompareLen
// characters.
func DescriptionRatio(a, b string) float64 {
	if len(a) > maxCompareLen {
		a = a[:maxCompareLen]
	}
	if len(b) > maxCompareLen {
		b = b[:maxCompareLen]
	}
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	return difflib.NewMatcher(wa, wb).Ratio()
}
