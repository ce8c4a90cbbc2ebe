// Package features builds the fixed-order feature vector for a
// (query, candidate) pair, the public contract shared by internal/scoring.
package features

import (
	"sort"
	"strings"

	"github.com/chartlydata/payee-match/internal/fuzzy"
	"github.com/chartlydata/payee-match/internal/idf"
	"github.com/chartlydata/payee-match/internal/registry"
)

// Feature names. Names() returns them sorted lexicographically; that order
// is the public contract with the scorer; do not change it without a
// corresponding scorer-artifact migration.
const (
	FExactMatch          = "exact_match"
	FExactMatchRaw       = "exact_match_raw"
	FHamming             = "hamming"
	FHasCommonVariation  = "has_common_variation"
	FIDFOverlap          = "idf_overlap"
	FInitialsMatch       = "initials_match"
	FIsAbbreviation      = "is_abbreviation"
	FJaroWinkler         = "jaro_winkler"
	FLenDiffAbs          = "len_diff_abs"
	FLenRatio            = "len_ratio"
	FLevenshtein         = "levenshtein"
	FNumSources          = "num_sources"
	FPartialRatio        = "partial_ratio"
	FPartialTokenRatio   = "partial_token_ratio"
	FRatio               = "ratio"
	FDMJaccard           = "dm_jaccard"
	FDMOverlapCount      = "dm_overlap_count"
	FDMOverlapRatio      = "dm_overlap_ratio"
	FDMScore             = "dm_score"
	FTokenCountDiff      = "token_count_diff"
	FTokenCountRatio     = "token_count_ratio"
	FTokenJaccard        = "token_jaccard"
	FTokenOverlapCount   = "token_overlap_count"
	FTokenOverlapRatio   = "token_overlap_ratio"
	FTokenSetRatio       = "token_set_ratio"
	FTokenSortRatio      = "token_sort_ratio"
	FTrgmScore           = "trgm_score"
	FVecScore            = "vec_score"
)

// Names returns all feature names, sorted lexicographically.
func Names() []string {
	names := []string{
		FExactMatch, FExactMatchRaw, FHamming, FHasCommonVariation, FIDFOverlap,
		FInitialsMatch, FIsAbbreviation, FJaroWinkler, FLenDiffAbs, FLenRatio,
		FLevenshtein, FNumSources, FPartialRatio, FPartialTokenRatio, FRatio,
		FDMJaccard, FDMOverlapCount, FDMOverlapRatio, FDMScore, FTokenCountDiff,
		FTokenCountRatio, FTokenJaccard, FTokenOverlapCount, FTokenOverlapRatio,
		FTokenSetRatio, FTokenSortRatio, FTrgmScore, FVecScore,
	}
	sort.Strings(names)
	return names
}

// variationPairs is the fixed long<->short substitution list used by
// has_common_variation.
var variationPairs = [][2]string{
	{"and", "&"}, {"corporation", "corp"}, {"incorporated", "inc"},
	{"limited", "ltd"}, {"company", "co"}, {"international", "intl"},
	{"national", "natl"}, {"associates", "assoc"}, {"management", "mgmt"},
	{"services", "svcs"},
}

// Query is the per-query input to Extract, already canonicalized.
type Query struct {
	NameRaw string
	Canon   string
	Tokens  []string
	DMCodes []string
}

// Extract builds the full feature map for one candidate, given the
// per-view scores already gathered by candidate union.
func Extract(q Query, c registry.Payee, viewScores map[registry.ViewTag]float64, numSources int, idfCache *idf.Cache) map[string]float64 {
	f := make(map[string]float64, len(Names()))

	f[FRatio] = fuzzy.Ratio(q.Canon, c.NameCanon)
	f[FPartialRatio] = fuzzy.PartialRatio(q.Canon, c.NameCanon)
	f[FTokenSortRatio] = fuzzy.TokenSortRatio(q.Canon, c.NameCanon)
	f[FTokenSetRatio] = fuzzy.TokenSetRatio(q.Canon, c.NameCanon)
	f[FPartialTokenRatio] = fuzzy.PartialTokenRatio(q.Canon, c.NameCanon)
	f[FLevenshtein] = fuzzy.Levenshtein(q.Canon, c.NameCanon)
	f[FJaroWinkler] = fuzzy.JaroWinkler(q.Canon, c.NameCanon)
	f[FHamming] = fuzzy.Hamming(q.Canon, c.NameCanon)

	f[FTrgmScore] = viewScores[registry.ViewTrigram]
	f[FVecScore] = viewScores[registry.ViewVector]
	f[FDMScore] = viewScores[registry.ViewPhonetic]
	ns := numSources
	if ns > 3 {
		ns = 3
	}
	f[FNumSources] = float64(ns)

	dmJaccard, dmOverlap, dmOverlapRatio := setOverlap(q.DMCodes, c.DMCodes)
	f[FDMJaccard] = dmJaccard
	f[FDMOverlapCount] = dmOverlap
	f[FDMOverlapRatio] = dmOverlapRatio

	tokJaccard, tokOverlap, tokOverlapRatio := setOverlap(q.Tokens, c.NameTokens)
	f[FTokenJaccard] = tokJaccard
	f[FTokenOverlapCount] = tokOverlap
	f[FTokenOverlapRatio] = tokOverlapRatio

	lq, lc := len(q.Canon), len(c.NameCanon)
	f[FLenDiffAbs] = float64(abs(lq - lc))
	f[FLenRatio] = ratioMinMax(lq, lc)

	tq, tc := len(q.Tokens), len(c.NameTokens)
	f[FTokenCountDiff] = float64(abs(tq - tc))
	f[FTokenCountRatio] = ratioMinMax(tq, tc)

	f[FIDFOverlap] = idfOverlap(q.Tokens, c.NameTokens, idfCache)

	f[FInitialsMatch] = boolF(initials(q.Tokens) == initials(c.NameTokens))
	f[FIsAbbreviation] = boolF(isAbbreviation(q.Canon, c.NameCanon))
	f[FHasCommonVariation] = boolF(hasCommonVariation(q.Canon, c.NameCanon))

	f[FExactMatch] = boolF(q.Canon == c.NameCanon)
	f[FExactMatchRaw] = boolF(strings.ToLower(strings.TrimSpace(q.NameRaw)) == strings.ToLower(strings.TrimSpace(c.NameRaw)))

	return f
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func ratioMinMax(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	mn, mx := a, b
	if mn > mx {
		mn, mx = mx, mn
	}
	if mx == 0 {
		return 0
	}
	return float64(mn) / float64(mx)
}

// setOverlap returns (jaccard, overlap_count, overlap_ratio) where
// overlap_ratio = |intersection| / |a| (the query side), 0 if a is empty.
func setOverlap(a, b []string) (jaccard, overlapCount, overlapRatio float64) {
	as := toSet(a)
	bs := toSet(b)
	inter := 0
	for t := range as {
		if bs[t] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union > 0 {
		jaccard = float64(inter) / float64(union)
	}
	overlapCount = float64(inter)
	if len(as) > 0 {
		overlapRatio = float64(inter) / float64(len(as))
	}
	return
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func idfOverlap(qTokens, cTokens []string, cache *idf.Cache) float64 {
	cs := toSet(cTokens)
	var num, den float64
	for _, t := range qTokens {
		w := cache.Get(t)
		den += w
		if cs[t] {
			num += w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func initials(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, t := range sorted {
		if t != "" {
			b.WriteByte(t[0])
		}
	}
	return b.String()
}

// isAbbreviation fires when the shorter canonical string (spaces removed)
// is a subsequence of the longer, and is strictly shorter than half the
// longer's length.
func isAbbreviation(a, b string) bool {
	sa := strings.ReplaceAll(a, " ", "")
	sb := strings.ReplaceAll(b, " ", "")
	if sa == "" || sb == "" {
		return false
	}
	shorter, longer := sa, sb
	if len(sa) > len(sb) {
		shorter, longer = sb, sa
	}
	if len(longer) == 0 || float64(len(shorter)) >= float64(len(longer))/2 {
		return false
	}
	return isSubsequence(shorter, longer)
}

func isSubsequence(shorter, longer string) bool {
	i := 0
	for j := 0; j < len(longer) && i < len(shorter); j++ {
		if shorter[i] == longer[j] {
			i++
		}
	}
	return i == len(shorter)
}

// hasCommonVariation applies the fixed long<->short substitution list in
// both directions and checks whether the two canonical strings become
// equal under some substitution.
func hasCommonVariation(a, b string) bool {
	if a == b {
		return true
	}
	for _, pair := range variationPairs {
		long, short := pair[0], pair[1]
		if swapWord(a, long, short) == b || a == swapWord(b, long, short) {
			return true
		}
		if swapWord(a, short, long) == b || a == swapWord(b, short, long) {
			return true
		}
	}
	return false
}

func swapWord(s, from, to string) string {
	tokens := strings.Fields(s)
	for i, t := range tokens {
		if t == from {
			tokens[i] = to
		}
	}
	return strings.Join(tokens, " ")
}
