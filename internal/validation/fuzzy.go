package validation

import "strings"

// Similarity returns the Ratcliff/Obershelp ratio of a and b: twice the number of
// matched characters divided by the total length. Identical strings score 1.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

// matchingChars sums the lengths of the longest common blocks, found recursively
// left and right of each block.
func matchingChars(a, b []rune) int {
	i, j, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingChars(a[:i], b[:j]) + matchingChars(a[i+size:], b[j+size:])
}

// longestMatch finds the longest common substring, preferring the earliest in a
// and then in b.
func longestMatch(a, b []rune) (int, int, int) {
	bestI, bestJ, best := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
					bestI, bestJ = i-best, j-best
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, best
}

// normalizeLabel folds separators so "non-retirement", "non_retirement" and
// "non retirement" compare equal.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), " ")
}

// BestMatch returns the candidate most similar to word and its score. Ties keep the
// earlier candidate.
func BestMatch(word string, candidates []string) (string, float64) {
	w := normalizeLabel(word)
	best, bestScore := "", -1.0
	for _, c := range candidates {
		score := Similarity(w, normalizeLabel(c))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}
