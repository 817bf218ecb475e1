// Package stacktrace normalizes, hashes and compares stack traces so ANR
// reports can be deduplicated and clustered.
package stacktrace

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agnivade/levenshtein"
)

// SimilarityThreshold is the Jaccard score (in percent) at or above which two
// traces belong to the same group.
const SimilarityThreshold = 70

const (
	patternFrames    = 5
	patternSeparator = " -> "
	framePrefix      = "at "
)

// normalize trims every line and drops the blank ones.
func normalize(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Hash returns a hex encoded SHA-256 digest of the normalized trace.
// Whitespace around lines and blank lines do not change the result.
func Hash(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(normalize(lines), "\n")))
	return hex.EncodeToString(sum[:])
}

func lineSet(lines []string) map[string]struct{} {
	set := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		set[strings.TrimSpace(l)] = struct{}{}
	}
	return set
}

// JaccardSimilarity compares two traces as sets of trimmed lines and returns
// 100 * |a ∩ b| / |a ∪ b|. Two empty traces score 0.
func JaccardSimilarity(a, b []string) float64 {
	setA, setB := lineSet(a), lineSet(b)
	var intersection int
	for l := range setA {
		if _, ok := setB[l]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union) * 100
}

// LevenshteinSimilarity compares the newline joined traces by edit distance
// and returns 100 * (maxLen - distance) / maxLen, lengths counted in runes.
func LevenshteinSimilarity(a, b []string) float64 {
	sa, sb := strings.Join(a, "\n"), strings.Join(b, "\n")
	maxLen := max(len([]rune(sa)), len([]rune(sb)))
	if maxLen == 0 {
		return 100
	}
	distance := levenshtein.ComputeDistance(sa, sb)
	return float64(maxLen-distance) / float64(maxLen) * 100
}

// ExtractPattern builds a short human readable label out of the first frames.
// It is only used to name groups, never to match them.
func ExtractPattern(lines []string) string {
	n := min(len(lines), patternFrames)
	parts := make([]string, 0, n)
	for _, l := range lines[:n] {
		if i := strings.Index(l, framePrefix); i >= 0 {
			parts = append(parts, strings.TrimSpace(l[i+len(framePrefix):]))
			continue
		}
		parts = append(parts, strings.TrimSpace(l))
	}
	return strings.Join(parts, patternSeparator)
}
