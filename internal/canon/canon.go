// Package canon implements deterministic canonicalization of raw
// payee/supplier names into a sorted-token canonical form plus phonetic
// codes, used as the primary matching key throughout the pipeline.
package canon

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/chartlydata/payee-match/internal/phonetic"
)

// Result is the transient output of Canonicalize.
type Result struct {
	Canon   string
	Tokens  []string // sorted, unique
	DMCodes []string // unique, derived from Tokens
}

// Empty reports whether r carries no signal at all.
func (r Result) Empty() bool {
	return r.Canon == ""
}

var nonAllowed = regexp.MustCompile(`[^a-z0-9&\s]`)

// abbrevExpansions is applied per-token, word-boundary, before filler and
// suffix removal so expanded forms participate in both.
var abbrevExpansions = map[string]string{
	"intl":   "international",
	"natl":   "national",
	"assoc":  "associates",
	"mgmt":   "management",
	"svcs":   "services",
	"grp":    "group",
	"co":     "company",
	"corp":   "corporation",
	"inc":    "incorporated",
	"ltd":    "limited",
}

// fillerWords are dropped entirely; they carry no discriminating signal for
// business-name matching.
var fillerWords = map[string]bool{
	"the": true, "of": true, "and": true, "group": true, "company": true,
	"services": true, "holdings": true, "solutions": true, "global": true,
	"international": true, "enterprises": true, "partners": true,
	"associates": true, "consulting": true,
}

// corporateSuffixes is a closed list of legal-form tokens across several
// jurisdictions, matched exact-token after punctuation is already stripped.
var corporateSuffixes = map[string]bool{
	"co": true, "inc": true, "incorporated": true, "llc": true, "llp": true,
	"ltd": true, "limited": true, "corp": true, "corporation": true,
	"plc": true, "lp": true, "gmbh": true, "bv": true, "nv": true, "sa": true,
	"ag": true, "oy": true, "kk": true, "srl": true, "spa": true, "pty": true,
	"sl": true, "sas": true, "snc": true, "ltda": true,
}

// trailingDigits matches an alphabetic stem followed by one or more digits,
// e.g. "company2" -> stem "company". A token that is entirely numeric, or
// has digits embedded between letters ("b2b"), does not match.
var trailingDigits = regexp.MustCompile(`^([a-z]+)([0-9]+)$`)

// dottedInitials matches a single letter followed by a dot, so sequences
// like "j.p." collapse to "jp" in a pre-pass that runs before other
// punctuation is replaced by spaces; see collapseDottedInitials.
var dottedInitials = regexp.MustCompile(`\b([a-z])\.`)

// Canonicalize is a pure function: no I/O, deterministic, safe for
// concurrent use.
func Canonicalize(raw string) Result {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Result{}
	}
	s = strings.ToLower(s)

	s = foldDiacritics(s)

	s = collapseDottedInitials(s)

	s = nonAllowed.ReplaceAllString(s, " ")

	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return Result{}
	}

	expanded := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if e, ok := abbrevExpansions[t]; ok {
			expanded = append(expanded, e)
		} else {
			expanded = append(expanded, t)
		}
	}

	kept := make([]string, 0, len(expanded))
	for _, t := range expanded {
		if fillerWords[t] || corporateSuffixes[t] {
			continue
		}
		kept = append(kept, touchUp(t))
	}

	unique := dedupeSorted(kept)
	if len(unique) == 0 {
		return Result{}
	}

	return Result{
		Canon:   strings.Join(unique, " "),
		Tokens:  unique,
		DMCodes: phonetic.CodesForTokens(unique),
	}
}

// touchUp applies per-token normalization: trailing-digit stripping on a
// pure alphabetic stem. Purely numeric tokens, and tokens with digits
// embedded between letters, pass through unchanged.
func touchUp(t string) string {
	if m := trailingDigits.FindStringSubmatch(t); m != nil {
		return m[1]
	}
	return t
}

func collapseDottedInitials(s string) string {
	// "j.p. morgan" -> "jp morgan": drop the dot, keep letters adjacent.
	return dottedInitials.ReplaceAllString(s, "$1")
}

func foldDiacritics(s string) string {
	t := norm.NFKD.String(s)
	out := make([]rune, 0, len(t))
	for _, r := range t {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func dedupeSorted(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
