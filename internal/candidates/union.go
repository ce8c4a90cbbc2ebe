package candidates

import (
	"sort"

	"github.com/chartlydata/payee-match/internal/registry"
)

// DefaultKUnion is the default shortlist size (§4.4).
const DefaultKUnion = 120

// Union merges the per-view hit lists into a shortlist of at most kUnion
// candidates, sorted by (max_score desc, num_sources desc, payee_id asc)
// for determinism. Missing views are simply absent from a candidate's
// ViewScores, never recorded as zero.
//
// Aggregation is max-score, not a weighted blend across views (see
// SPEC_FULL.md §13): max is robust when one view is very confident, and
// num_sources cheaply rewards corroboration. A future weighted-blend
// variant would replace only the grouping step below with a per-view
// weight table.
func Union(views map[registry.ViewTag][]registry.ViewHit, kUnion int) []registry.Candidate {
	if kUnion <= 0 {
		kUnion = DefaultKUnion
	}
	grouped := make(map[int64]*registry.Candidate)
	for tag, hits := range views {
		for _, h := range hits {
			c, ok := grouped[h.PayeeID]
			if !ok {
				c = &registry.Candidate{PayeeID: h.PayeeID, ViewScores: map[registry.ViewTag]float64{}}
				grouped[h.PayeeID] = c
			}
			if existing, ok := c.ViewScores[tag]; !ok || h.ViewScore > existing {
				c.ViewScores[tag] = h.ViewScore
			}
		}
	}

	out := make([]registry.Candidate, 0, len(grouped))
	for _, c := range grouped {
		c.Sources = sortedTags(c.ViewScores)
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].MaxScore(), out[j].MaxScore()
		if mi != mj {
			return mi > mj
		}
		ni, nj := out[i].NumSources(), out[j].NumSources()
		if ni != nj {
			return ni > nj
		}
		return out[i].PayeeID < out[j].PayeeID
	})

	if len(out) > kUnion {
		out = out[:kUnion]
	}
	return out
}

func sortedTags(scores map[registry.ViewTag]float64) []registry.ViewTag {
	out := make([]registry.ViewTag, 0, len(scores))
	for t := range scores {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
