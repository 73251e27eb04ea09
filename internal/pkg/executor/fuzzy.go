package executor

import "strings"

// MatchThreshold is the minimum similarity a listed program must reach
// against the configured text before we dare click it.
const MatchThreshold = 0.65

// Similarity scores two strings in [0,1] using the Sorensen-Dice coefficient
// over character bigrams. Case and surrounding whitespace are ignored.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return 1.0
	}
	if len(a) < 2 || len(b) < 2 {
		return 0.0
	}

	bigrams := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		bigrams[a[i:i+2]]++
	}

	var matches int
	for i := 0; i < len(b)-1; i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			matches++
		}
	}

	return 2.0 * float64(matches) / float64(len(a)-1+len(b)-1)
}

// BestMatch picks the candidate most similar to any of the wanted texts and
// returns it along with its score. The caller decides whether the score
// clears MatchThreshold.
func BestMatch(wanted []string, candidates []string) (string, float64) {
	var best string
	var bestScore float64
	for _, c := range candidates {
		for _, w := range wanted {
			if s := Similarity(w, c); s > bestScore {
				bestScore = s
				best = c
			}
		}
	}
	return best, bestScore
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
