// Package fuzzy implements the Levenshtein-family string similarity ratios
// used as features by the scorer: ratio, partial_ratio, token_sort_ratio,
// token_set_ratio, partial_token_ratio, plus Jaro-Winkler and Hamming.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// Levenshtein returns 1 - normalized edit distance, in [0,1]. Two empty
// strings are defined as identical (1.0).
func Levenshtein(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(maxLen)
}

// JaroWinkler returns the Jaro-Winkler similarity in [0,1].
func JaroWinkler(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	return smetrics.JaroWinkler(a, b, 0.1, 4)
}

// Hamming returns 1 - normalized Hamming distance. Strings of unequal
// length are compared over their common prefix, with the length
// difference counted as additional mismatches, matching the normalized
// convention used elsewhere in this package.
func Hamming(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	mismatches := maxLen - minLen
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			mismatches++
		}
	}
	return 1.0 - float64(mismatches)/float64(maxLen)
}

// Ratio is a plain Levenshtein-based similarity ratio on the full strings,
// in [0,1], modeled on fuzzywuzzy/rapidfuzz's `ratio`.
func Ratio(a, b string) float64 {
	return Levenshtein(a, b)
}

// PartialRatio scores the best-aligned substring match of the shorter
// string within the longer one, modeled on rapidfuzz's `partial_ratio`.
func PartialRatio(a, b string) float64 {
	if a == "" || b == "" {
		if a == b {
			return 1.0
		}
		return 0.0
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if len(shorter) == len(longer) {
		return Ratio(shorter, longer)
	}
	best := 0.0
	window := len(shorter)
	for i := 0; i+window <= len(longer); i++ {
		r := Ratio(shorter, longer[i:i+window])
		if r > best {
			best = r
		}
	}
	return best
}

// TokenSortRatio sorts each string's whitespace tokens before comparing,
// making it invariant to token order.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortedTokenJoin(a), sortedTokenJoin(b))
}

// TokenSetRatio compares the union/intersection token sets, tolerating one
// string being a superset of the other's tokens.
func TokenSetRatio(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	inter := intersectSorted(ta, tb)
	interStr := strings.Join(inter, " ")

	onlyA := diffJoin(ta, inter)
	onlyB := diffJoin(tb, inter)

	combinedA := strings.TrimSpace(interStr + " " + onlyA)
	combinedB := strings.TrimSpace(interStr + " " + onlyB)

	best := Ratio(interStr, interStr)
	if interStr == "" {
		best = 0
	}
	candidates := []float64{
		Ratio(combinedA, combinedB),
		Ratio(interStr, combinedA),
		Ratio(interStr, combinedB),
	}
	for _, c := range candidates {
		if c > best {
			best = c
		}
	}
	return best
}

// PartialTokenRatio applies PartialRatio over the sorted-token forms,
// tolerating partial/substring token overlap plus order invariance.
func PartialTokenRatio(a, b string) float64 {
	return PartialRatio(sortedTokenJoin(a), sortedTokenJoin(b))
}

func tokenSet(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func sortedTokenJoin(s string) string {
	return strings.Join(tokenSet(s), " ")
}

func intersectSorted(a, b []string) []string {
	bs := make(map[string]bool, len(b))
	for _, x := range b {
		bs[x] = true
	}
	out := make([]string, 0)
	for _, x := range a {
		if bs[x] {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}

func diffJoin(a, sub []string) string {
	subset := make(map[string]bool, len(sub))
	for _, x := range sub {
		subset[x] = true
	}
	out := make([]string, 0)
	for _, x := range a {
		if !subset[x] {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}
