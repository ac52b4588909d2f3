package mapper

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// closestMatch returns the candidate most similar to target whose score reaches cutoff.
// Candidates are scanned in the order given; the first one wins a tie.
func closestMatch(target string, candidates []string, cutoff float64) (string, bool) {
	best, bestScore := "", -1.0
	for _, candidate := range candidates {
		score := similarity(candidate, target)
		if score >= cutoff && score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, bestScore >= 0
}

// similarity is the SequenceMatcher ratio over the characters of a and b.
func similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	return strings.Split(s, "")
}
