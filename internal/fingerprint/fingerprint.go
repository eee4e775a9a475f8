// Package fingerprint provides content hashing and word-overlap similarity
// scoring for observed content. Both functions are pure and safe for
// concurrent use.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Hash returns a stable token derived from a 32-bit FNV-1a digest of content.
// It is a fast equality check, not a security digest.
func Hash(content string) string {
	h := fnv.New32a()
	h.Write([]byte(content))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Similarity returns the Jaccard similarity of the case-folded word sets of a
// and b, in [0, 1]. Two empty strings have an empty union and score 0.
func Similarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)

	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
