// Package match orchestrates the full resolution pipeline: canonicalize
// -> fast-path exact probe -> candidate generation -> union -> feature
// extraction -> scoring -> decision, plus the batch driver that fans
// queries across a worker pool.
package match

import (
	"context"

	"github.com/chartlydata/payee-match/internal/candidates"
	"github.com/chartlydata/payee-match/internal/canon"
	"github.com/chartlydata/payee-match/internal/decision"
	"github.com/chartlydata/payee-match/internal/embedding"
	"github.com/chartlydata/payee-match/internal/features"
	"github.com/chartlydata/payee-match/internal/idf"
	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/review"
	"github.com/chartlydata/payee-match/internal/scoring"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

// Response is the result of one match call, independent of the HTTP
// surface's JSON shape (internal/httpapi maps this onto §6's wire format).
type Response struct {
	Decision     decision.Outcome
	Confidence   float64
	MatchedPayee *registry.Payee
	Candidates   []registry.ScoredCandidate // top-5
	Reason       string
}

// Pipeline owns every collaborator the match/decision algorithm needs.
// The IDF cache and scorer are process-wide and immutable after
// construction; rebuilding the Pipeline is the only supported way to
// reload them (§9).
type Pipeline struct {
	Store      registry.Store
	Embedder   *embedding.Cache
	EmbedProv  embedding.Provider
	IDF        *idf.Cache
	Scorer     scoring.Scorer
	Thresholds decision.Thresholds
	Reranker   decision.Reranker
	Review     *review.Service
	Log        *telemetry.Logger

	TopKTrigram  int
	TopKVector   int
	TopKPhonetic int
	KUnion       int
}

// Match resolves a single raw name. It never returns an error for
// well-formed input; the public contract is that a call either returns a
// well-formed decision or errors only on programmer error (§7).
func (p *Pipeline) Match(ctx context.Context, nameRaw string) (Response, error) {
	c := canon.Canonicalize(nameRaw)
	if c.Empty() {
		return Response{Decision: decision.NoMatch, Reason: "Empty or invalid name"}, nil
	}

	gen := &candidates.Generators{
		Store: p.Store, Log: p.Log,
		TopKTrigram: p.TopKTrigram, TopKVector: p.TopKVector, TopKPhonetic: p.TopKPhonetic,
	}

	if exact, ok := gen.ExactHit(ctx, candidates.Query{Canon: c.Canon}); ok {
		return Response{
			Decision:     decision.AutoMatch,
			Confidence:   1.0,
			MatchedPayee: &exact,
		}, nil
	}

	vec, err := p.Embedder.Embed(ctx, p.EmbedProv, c.Canon)
	if err != nil && p.Log != nil {
		p.Log.Warn(ctx, "embedding failed, vector view degraded", map[string]any{"error": err.Error()})
	}

	views := gen.RunViews(ctx, candidates.Query{Canon: c.Canon, DMCodes: c.DMCodes, Vector: vec})
	if allEmpty(views) {
		return Response{Decision: decision.NoMatch, Reason: "storage unavailable"}, nil
	}

	shortlist := candidates.Union(views, orDefault(p.KUnion, candidates.DefaultKUnion))
	if len(shortlist) == 0 {
		return Response{Decision: decision.NoMatch}, nil
	}

	payees, err := p.Store.GetByIDs(ctx, payeeIDs(shortlist))
	if err != nil {
		return Response{Decision: decision.NoMatch, Reason: "storage unavailable"}, nil
	}
	byID := make(map[int64]registry.Payee, len(payees))
	for _, pp := range payees {
		byID[pp.PayeeID] = pp
	}

	q := features.Query{NameRaw: nameRaw, Canon: c.Canon, Tokens: c.Tokens, DMCodes: c.DMCodes}
	scored := make([]registry.ScoredCandidate, 0, len(shortlist))
	for _, cand := range shortlist {
		payee, ok := byID[cand.PayeeID]
		if !ok {
			continue
		}
		f := features.Extract(q, payee, cand.ViewScores, cand.NumSources(), p.IDF)
		prob := p.Scorer.Score(f)
		scored = append(scored, registry.ScoredCandidate{
			Candidate:   cand,
			Features:    f,
			Probability: prob,
			TopFeatures: toContribs(p.Scorer.Explain(f, 5)),
			Payee:       payee,
		})
	}
	sortScored(scored)
	if len(scored) == 0 {
		return Response{Decision: decision.NoMatch}, nil
	}

	best := scored[0]
	res := decision.Decide(ctx, p.Thresholds, nameRaw, best, p.Reranker, p.Log)

	top := scored
	if len(top) > 5 {
		top = top[:5]
	}

	out := Response{Decision: res.Outcome, Confidence: res.Confidence, Candidates: top, Reason: res.Reason}
	if res.Outcome == decision.AutoMatch {
		payee := best.Payee
		out.MatchedPayee = &payee
	}
	if res.Outcome == decision.NeedsReview && p.Review != nil {
		if _, err := p.Review.Escalate(ctx, nameRaw, c.Canon, top); err != nil && p.Log != nil {
			p.Log.Error(ctx, "failed to escalate to review queue", map[string]any{"error": err.Error()})
		}
	}
	return out, nil
}

func allEmpty(views map[registry.ViewTag][]registry.ViewHit) bool {
	for _, hits := range views {
		if len(hits) > 0 {
			return false
		}
	}
	return true
}

func payeeIDs(cands []registry.Candidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.PayeeID
	}
	return out
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func toContribs(e scoring.Explanation) []registry.FeatureContribution {
	return []registry.FeatureContribution(e)
}

// sortScored orders by (probability desc, num_sources desc, payee_id asc)
// for determinism (§5, §8 invariant 6).
func sortScored(scored []registry.ScoredCandidate) {
	sortByProbability(scored)
}

func sortByProbability(scored []registry.ScoredCandidate) {
	// insertion sort is fine: shortlist is bounded by K_union (<=120).
	for i := 1; i < len(scored); i++ {
		j := i
		for j > 0 && less(scored[j], scored[j-1]) {
			scored[j], scored[j-1] = scored[j-1], scored[j]
			j--
		}
	}
}

func less(a, b registry.ScoredCandidate) bool {
	if a.Probability != b.Probability {
		return a.Probability > b.Probability
	}
	if a.NumSources() != b.NumSources() {
		return a.NumSources() > b.NumSources()
	}
	return a.PayeeID < b.PayeeID
}
