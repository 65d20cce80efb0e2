// Package wake implements wake-phrase detection over noisy speech
// transcripts: a normalized edit-distance similarity score, per-mode
// vocabularies of accepted phrases with coarse keyword fallbacks, and a
// Detector that combines them with an optional phonetic second chance.
package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Similarity returns a normalized similarity between a and b in [0, 1],
// where 1.0 means identical. Comparison is case-insensitive. The score is
// 1 − levenshtein(a, b) / max(len(a), len(b)); it is 0 when either input is
// empty.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(longest)
}
