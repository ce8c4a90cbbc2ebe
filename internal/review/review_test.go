package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/store/memtest"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestCanTransitionOpenToTerminal(t *testing.T) {
	if !CanTransition(registry.ReviewOpen, registry.ReviewApproved) {
		t.Error("open -> approved should be legal")
	}
	if !CanTransition(registry.ReviewOpen, registry.ReviewRejected) {
		t.Error("open -> rejected should be legal")
	}
}

func TestCanTransitionTerminalIsFinal(t *testing.T) {
	if CanTransition(registry.ReviewApproved, registry.ReviewRejected) {
		t.Error("approved -> rejected must not be legal (irreversible)")
	}
	if CanTransition(registry.ReviewRejected, registry.ReviewOpen) {
		t.Error("rejected -> open must not be legal (irreversible)")
	}
}

func TestEscalateCreatesOpenItem(t *testing.T) {
	store := memtest.NewReviewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, fixedClock(now))

	cands := []registry.ScoredCandidate{
		{Candidate: registry.Candidate{PayeeID: 1}, Probability: 0.8},
	}
	item, err := svc.Escalate(context.Background(), "Microsft", "microsoft", cands)
	if err != nil {
		t.Fatalf("Escalate() error: %v", err)
	}
	if item.Status != registry.ReviewOpen {
		t.Errorf("Status = %v, want ReviewOpen", item.Status)
	}
	if item.ID == "" {
		t.Error("expected a non-empty generated ID")
	}
	if !item.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v (injected clock)", item.CreatedAt, now)
	}
}

func TestEscalateTruncatesCandidatesToFive(t *testing.T) {
	store := memtest.NewReviewStore()
	svc := NewService(store, fixedClock(time.Now()))

	cands := make([]registry.ScoredCandidate, 10)
	for i := range cands {
		cands[i] = registry.ScoredCandidate{Candidate: registry.Candidate{PayeeID: int64(i + 1)}}
	}
	item, err := svc.Escalate(context.Background(), "q", "q", cands)
	if err != nil {
		t.Fatalf("Escalate() error: %v", err)
	}
	if len(item.Candidates) != 5 {
		t.Errorf("len(Candidates) = %d, want 5", len(item.Candidates))
	}
}

func TestResolveApprovePersistsLabel(t *testing.T) {
	store := memtest.NewReviewStore()
	svc := NewService(store, fixedClock(time.Now()))
	item, _ := svc.Escalate(context.Background(), "Microsft", "microsoft", nil)

	resolved, err := svc.Resolve(context.Background(), item.ID, true, 42, "looks right")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Status != registry.ReviewApproved {
		t.Errorf("Status = %v, want ReviewApproved", resolved.Status)
	}
	labels := store.Labels()
	if len(labels) != 1 {
		t.Fatalf("expected 1 label persisted, got %d", len(labels))
	}
	if labels[0].PayeeID != 42 || !labels[0].Y {
		t.Errorf("label = %+v, want PayeeID=42 Y=true", labels[0])
	}
}

func TestResolveRejectDoesNotApprove(t *testing.T) {
	store := memtest.NewReviewStore()
	svc := NewService(store, fixedClock(time.Now()))
	item, _ := svc.Escalate(context.Background(), "q", "q", nil)

	resolved, err := svc.Resolve(context.Background(), item.ID, false, 0, "not a match")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Status != registry.ReviewRejected {
		t.Errorf("Status = %v, want ReviewRejected", resolved.Status)
	}
}

func TestResolveTwiceFailsSecondCall(t *testing.T) {
	store := memtest.NewReviewStore()
	svc := NewService(store, fixedClock(time.Now()))
	item, _ := svc.Escalate(context.Background(), "q", "q", nil)

	if _, err := svc.Resolve(context.Background(), item.ID, true, 1, ""); err != nil {
		t.Fatalf("first Resolve() error: %v", err)
	}
	_, err := svc.Resolve(context.Background(), item.ID, true, 1, "")
	if err == nil {
		t.Fatal("expected an error resolving an already-resolved review item")
	}
}

func TestResolveUnknownIDFails(t *testing.T) {
	store := memtest.NewReviewStore()
	svc := NewService(store, fixedClock(time.Now()))
	_, err := svc.Resolve(context.Background(), "does-not-exist", true, 1, "")
	if err == nil {
		t.Fatal("expected an error resolving an unknown review item ID")
	}
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}
