package candidates

import (
	"testing"

	"github.com/chartlydata/payee-match/internal/registry"
)

func TestUnionMergesAcrossViews(t *testing.T) {
	views := map[registry.ViewTag][]registry.ViewHit{
		registry.ViewTrigram:  {{PayeeID: 1, ViewScore: 0.9}},
		registry.ViewPhonetic: {{PayeeID: 1, ViewScore: 0.7}},
	}
	out := Union(views, 0)
	if len(out) != 1 {
		t.Fatalf("Union() returned %d candidates, want 1", len(out))
	}
	c := out[0]
	if c.NumSources() != 2 {
		t.Errorf("NumSources() = %d, want 2", c.NumSources())
	}
	if c.MaxScore() != 0.9 {
		t.Errorf("MaxScore() = %v, want 0.9", c.MaxScore())
	}
}

func TestUnionMissingViewsNotRecordedAsZero(t *testing.T) {
	views := map[registry.ViewTag][]registry.ViewHit{
		registry.ViewTrigram: {{PayeeID: 1, ViewScore: 0.9}},
	}
	out := Union(views, 0)
	c := out[0]
	if _, ok := c.ViewScores[registry.ViewVector]; ok {
		t.Error("vector view absent from input must not appear in ViewScores")
	}
	if len(c.ViewScores) != 1 {
		t.Errorf("len(ViewScores) = %d, want 1", len(c.ViewScores))
	}
}

func TestUnionDeterministicOrdering(t *testing.T) {
	views := map[registry.ViewTag][]registry.ViewHit{
		registry.ViewTrigram: {
			{PayeeID: 3, ViewScore: 0.8},
			{PayeeID: 2, ViewScore: 0.8},
			{PayeeID: 1, ViewScore: 0.95},
		},
	}
	out := Union(views, 0)
	if len(out) != 3 {
		t.Fatalf("Union() returned %d, want 3", len(out))
	}
	// Highest score first.
	if out[0].PayeeID != 1 {
		t.Errorf("out[0].PayeeID = %d, want 1 (highest score)", out[0].PayeeID)
	}
	// Tied scores (2 and 3) break by payee_id ascending.
	if out[1].PayeeID != 2 || out[2].PayeeID != 3 {
		t.Errorf("tie-break order = [%d,%d], want [2,3] (payee_id ascending)", out[1].PayeeID, out[2].PayeeID)
	}
}

func TestUnionNumSourcesBreaksTiesBeforePayeeID(t *testing.T) {
	views := map[registry.ViewTag][]registry.ViewHit{
		registry.ViewTrigram: {
			{PayeeID: 1, ViewScore: 0.8},
			{PayeeID: 2, ViewScore: 0.8},
		},
		registry.ViewPhonetic: {
			{PayeeID: 2, ViewScore: 0.5},
		},
	}
	out := Union(views, 0)
	// Both tie on max_score=0.8, but payee 2 has 2 sources vs payee 1's 1.
	if out[0].PayeeID != 2 {
		t.Errorf("out[0].PayeeID = %d, want 2 (more sources wins the tie)", out[0].PayeeID)
	}
}

func TestUnionTruncatesToKUnion(t *testing.T) {
	hits := make([]registry.ViewHit, 10)
	for i := range hits {
		hits[i] = registry.ViewHit{PayeeID: int64(i + 1), ViewScore: 0.5}
	}
	out := Union(map[registry.ViewTag][]registry.ViewHit{registry.ViewTrigram: hits}, 3)
	if len(out) != 3 {
		t.Errorf("Union() truncated to %d, want 3", len(out))
	}
}

func TestUnionDefaultKUnionWhenZero(t *testing.T) {
	hits := make([]registry.ViewHit, DefaultKUnion+10)
	for i := range hits {
		hits[i] = registry.ViewHit{PayeeID: int64(i + 1), ViewScore: 0.5}
	}
	out := Union(map[registry.ViewTag][]registry.ViewHit{registry.ViewTrigram: hits}, 0)
	if len(out) != DefaultKUnion {
		t.Errorf("Union() with kUnion=0 returned %d, want DefaultKUnion=%d", len(out), DefaultKUnion)
	}
}

func TestUnionEmptyViewsYieldsNoCandidates(t *testing.T) {
	out := Union(map[registry.ViewTag][]registry.ViewHit{}, 0)
	if len(out) != 0 {
		t.Errorf("Union() on empty views = %d candidates, want 0", len(out))
	}
}
