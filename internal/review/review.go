// Package review implements the review-item state machine: open ->
// approved | rejected, irreversible, stamping reviewed_at and emitting a
// label row for future scorer retraining.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chartlydata/payee-match/internal/registry"
)

// allowed enumerates the legal status transitions. open is the only
// starting state and both terminal states are final.
var allowed = map[registry.ReviewStatus]map[registry.ReviewStatus]bool{
	registry.ReviewOpen: {
		registry.ReviewApproved: true,
		registry.ReviewRejected: true,
	},
}

// CanTransition reports whether from -> to is a legal state transition.
func CanTransition(from, to registry.ReviewStatus) bool {
	return allowed[from][to]
}

// Clock is injected so tests can control CreatedAt/ReviewedAt
// deterministically instead of calling time.Now() directly.
type Clock func() time.Time

// Service drives review-item creation and resolution against a
// registry.ReviewStore.
type Service struct {
	Store registry.ReviewStore
	Clock Clock
}

func NewService(store registry.ReviewStore, clock Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{Store: store, Clock: clock}
}

// Escalate persists a new open review item for a needs_review decision.
// §8 invariant 8: exactly one open row must exist per escalated query;
// callers are expected to call Escalate at most once per match call.
func (s *Service) Escalate(ctx context.Context, qNameRaw, qNameCanon string, candidates []registry.ScoredCandidate) (registry.ReviewItem, error) {
	item := registry.ReviewItem{
		ID:         uuid.NewString(),
		QNameRaw:   qNameRaw,
		QNameCanon: qNameCanon,
		Candidates: topN(candidates, 5),
		Status:     registry.ReviewOpen,
		CreatedAt:  s.Clock().UTC(),
	}
	return s.Store.CreateReviewItem(ctx, item)
}

// Resolve transitions a review item and records the reviewer's decision
// as a Label for future retraining. approved selects between the
// approved and rejected terminal states; payeeID is the reviewer's chosen
// match (0 when rejecting with no match).
func (s *Service) Resolve(ctx context.Context, id string, approved bool, payeeID int64, notes string) (registry.ReviewItem, error) {
	item, err := s.Store.Resolve(ctx, id, approved, payeeID, notes)
	if err != nil {
		return registry.ReviewItem{}, fmt.Errorf("review: resolve %s: %w", id, err)
	}
	return item, nil
}

func topN(cands []registry.ScoredCandidate, n int) []registry.ScoredCandidate {
	if len(cands) <= n {
		return cands
	}
	return cands[:n]
}
