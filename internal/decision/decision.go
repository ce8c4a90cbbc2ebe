// Package decision applies the threshold policy to a scored shortlist and
// drives the optional LLM rerank post-filter.
package decision

import (
	"context"

	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

// Outcome is the triage label a match call resolves to.
type Outcome string

const (
	AutoMatch   Outcome = "auto_match"
	NeedsReview Outcome = "needs_review"
	NoMatch     Outcome = "no_match"
)

// Thresholds configures the decision boundaries (§4.7 defaults).
type Thresholds struct {
	THigh float64 // default 0.97
	TLow  float64 // default 0.60
}

// DefaultThresholds returns the spec defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{THigh: 0.97, TLow: 0.60}
}

// Reranker calls an LLM to confirm or refute the top-1 candidate for a
// needs_review decision. It is never consulted for auto_match or
// no_match, and a failure must leave the decision unchanged.
type Reranker interface {
	Rerank(ctx context.Context, queryRaw, candidateRaw string) (RerankResult, error)
}

type RerankResult struct {
	Same       bool
	Confidence float64
	Reason     string
}

// Result is the outcome of Decide for one query.
type Result struct {
	Outcome    Outcome
	Confidence float64
	Reason     string
}

// Decide applies §4.7's thresholds to the best-scoring candidate. When the
// outcome is needs_review and reranker is non-nil, it is consulted once;
// a confirming verdict with confidence >= 0.90 upgrades the outcome to
// auto_match with confidence max(p, llm_confidence). Any rerank failure
// leaves the decision unchanged.
func Decide(ctx context.Context, t Thresholds, queryRaw string, best registry.ScoredCandidate, reranker Reranker, log *telemetry.Logger) Result {
	p := best.Probability
	switch {
	case p >= t.THigh:
		return Result{Outcome: AutoMatch, Confidence: p}
	case p >= t.TLow:
		res := Result{Outcome: NeedsReview, Confidence: p}
		if reranker == nil {
			return res
		}
		rr, err := reranker.Rerank(ctx, queryRaw, best.Payee.NameRaw)
		if err != nil {
			if log != nil {
				log.Warn(ctx, "llm rerank failed, decision unchanged", map[string]any{"error": err.Error()})
			}
			return res
		}
		if rr.Same && rr.Confidence >= 0.90 {
			conf := p
			if rr.Confidence > conf {
				conf = rr.Confidence
			}
			return Result{Outcome: AutoMatch, Confidence: conf, Reason: "llm_rerank_upgrade: " + rr.Reason}
		}
		return res
	default:
		return Result{Outcome: NoMatch, Confidence: p}
	}
}

// NoCandidatesResult is the fixed result for a query whose candidate views
// were all empty after the fast path (§4.3, §4.7).
func NoCandidatesResult(reason string) Result {
	return Result{Outcome: NoMatch, Confidence: 0, Reason: reason}
}

// EmptyCanonicalResult is the fixed result for §8 invariant 9.
func EmptyCanonicalResult() Result {
	return Result{Outcome: NoMatch, Confidence: 0, Reason: "Empty or invalid name"}
}
