package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/chartlydata/payee-match/internal/registry"
)

func scored(p float64) registry.ScoredCandidate {
	return registry.ScoredCandidate{
		Candidate:   registry.Candidate{Payee: registry.Payee{PayeeID: 1, NameRaw: "Microsoft Corporation"}},
		Probability: p,
	}
}

func TestDecideAboveHighIsAutoMatch(t *testing.T) {
	r := Decide(context.Background(), DefaultThresholds(), "microsoft", scored(0.99), nil, nil)
	if r.Outcome != AutoMatch {
		t.Errorf("Outcome = %v, want AutoMatch", r.Outcome)
	}
	if r.Confidence != 0.99 {
		t.Errorf("Confidence = %v, want 0.99", r.Confidence)
	}
}

func TestDecideBelowLowIsNoMatch(t *testing.T) {
	r := Decide(context.Background(), DefaultThresholds(), "xyz", scored(0.1), nil, nil)
	if r.Outcome != NoMatch {
		t.Errorf("Outcome = %v, want NoMatch", r.Outcome)
	}
}

func TestDecideMidBandIsNeedsReviewWithoutReranker(t *testing.T) {
	r := Decide(context.Background(), DefaultThresholds(), "microsft", scored(0.75), nil, nil)
	if r.Outcome != NeedsReview {
		t.Errorf("Outcome = %v, want NeedsReview", r.Outcome)
	}
}

func TestDecideThresholdBoundariesAreInclusive(t *testing.T) {
	th := DefaultThresholds()
	if got := Decide(context.Background(), th, "q", scored(th.THigh), nil, nil).Outcome; got != AutoMatch {
		t.Errorf("p == THigh: Outcome = %v, want AutoMatch", got)
	}
	if got := Decide(context.Background(), th, "q", scored(th.TLow), nil, nil).Outcome; got != NeedsReview {
		t.Errorf("p == TLow: Outcome = %v, want NeedsReview", got)
	}
}

type fakeReranker struct {
	result RerankResult
	err    error
}

func (f fakeReranker) Rerank(ctx context.Context, queryRaw, candidateRaw string) (RerankResult, error) {
	return f.result, f.err
}

func TestDecideRerankerUpgradesOnConfirmingVerdict(t *testing.T) {
	rr := fakeReranker{result: RerankResult{Same: true, Confidence: 0.95, Reason: "clearly the same entity"}}
	r := Decide(context.Background(), DefaultThresholds(), "microsft", scored(0.75), rr, nil)
	if r.Outcome != AutoMatch {
		t.Errorf("Outcome = %v, want AutoMatch after rerank upgrade", r.Outcome)
	}
	if r.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95 (max of p and llm confidence)", r.Confidence)
	}
}

func TestDecideRerankerDoesNotUpgradeOnLowConfidence(t *testing.T) {
	rr := fakeReranker{result: RerankResult{Same: true, Confidence: 0.5}}
	r := Decide(context.Background(), DefaultThresholds(), "microsft", scored(0.75), rr, nil)
	if r.Outcome != NeedsReview {
		t.Errorf("Outcome = %v, want NeedsReview (rerank confidence below 0.90)", r.Outcome)
	}
}

func TestDecideRerankerDoesNotUpgradeOnRefutingVerdict(t *testing.T) {
	rr := fakeReranker{result: RerankResult{Same: false, Confidence: 0.99}}
	r := Decide(context.Background(), DefaultThresholds(), "microsft", scored(0.75), rr, nil)
	if r.Outcome != NeedsReview {
		t.Errorf("Outcome = %v, want NeedsReview (rerank refuted the match)", r.Outcome)
	}
}

func TestDecideRerankerFailureLeavesDecisionUnchanged(t *testing.T) {
	rr := fakeReranker{err: errors.New("llm unavailable")}
	r := Decide(context.Background(), DefaultThresholds(), "microsft", scored(0.75), rr, nil)
	if r.Outcome != NeedsReview {
		t.Errorf("Outcome = %v, want NeedsReview (rerank error must not change decision)", r.Outcome)
	}
}

func TestDecideRerankerNeverConsultedOutsideNeedsReview(t *testing.T) {
	called := false
	rr := callCheckReranker{called: &called}

	Decide(context.Background(), DefaultThresholds(), "microsoft", scored(0.99), rr, nil)
	if called {
		t.Error("reranker must not be consulted for an auto_match decision")
	}

	Decide(context.Background(), DefaultThresholds(), "xyz", scored(0.1), rr, nil)
	if called {
		t.Error("reranker must not be consulted for a no_match decision")
	}
}

type callCheckReranker struct {
	called *bool
}

func (c callCheckReranker) Rerank(ctx context.Context, queryRaw, candidateRaw string) (RerankResult, error) {
	*c.called = true
	return RerankResult{Same: true, Confidence: 1.0}, nil
}

func TestNoCandidatesResult(t *testing.T) {
	r := NoCandidatesResult("no candidates generated")
	if r.Outcome != NoMatch || r.Confidence != 0 {
		t.Errorf("NoCandidatesResult() = %+v, want NoMatch/0", r)
	}
}

func TestEmptyCanonicalResult(t *testing.T) {
	r := EmptyCanonicalResult()
	if r.Outcome != NoMatch || r.Confidence != 0 {
		t.Errorf("EmptyCanonicalResult() = %+v, want NoMatch/0", r)
	}
}
