// Package candidates implements the three independent similarity views
// (trigram, vector, phonetic) plus the fast-path exact view, and the
// union/shortlist step that merges their outputs.
package candidates

import (
	"context"

	"github.com/chartlydata/payee-match/internal/registry"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

// Query is the per-view input derived once from the canonicalized name.
type Query struct {
	Canon   string
	DMCodes []string
	Vector  []float32
}

// Generators runs the three bounded-K views against a Store. Each view is
// failure-isolated: an error yields an empty list and a logged warning, so
// the pipeline proceeds with whichever views succeeded.
type Generators struct {
	Store registry.Store
	Log   *telemetry.Logger

	TopKTrigram  int
	TopKVector   int
	TopKPhonetic int
}

// ExactHit probes the fast path: an exact canonical match. When found, the
// pipeline short-circuits with auto_match at confidence 1.0 and none of
// the other views run.
func (g *Generators) ExactHit(ctx context.Context, q Query) (registry.Payee, bool) {
	p, ok, err := g.Store.ExactByCanon(ctx, q.Canon)
	if err != nil {
		g.logFailure(ctx, "exact", err)
		return registry.Payee{}, false
	}
	return p, ok
}

// RunViews runs trigram, vector and phonetic concurrently and returns the
// non-exact view results. Concurrent execution is legal because final
// ordering depends only on content, never arrival order (§5).
func (g *Generators) RunViews(ctx context.Context, q Query) map[registry.ViewTag][]registry.ViewHit {
	type result struct {
		tag  registry.ViewTag
		hits []registry.ViewHit
	}
	ch := make(chan result, 3)

	go func() {
		hits, err := g.Store.TrigramSearch(ctx, q.Canon, g.topK(g.TopKTrigram, 50))
		if err != nil {
			g.logFailure(ctx, "trigram", err)
			hits = nil
		}
		ch <- result{registry.ViewTrigram, hits}
	}()
	go func() {
		var hits []registry.ViewHit
		var err error
		if len(q.Vector) > 0 {
			hits, err = g.Store.VectorSearch(ctx, q.Vector, g.topK(g.TopKVector, 50))
		}
		if err != nil {
			g.logFailure(ctx, "vector", err)
			hits = nil
		}
		ch <- result{registry.ViewVector, hits}
	}()
	go func() {
		var hits []registry.ViewHit
		var err error
		if len(q.DMCodes) > 0 {
			hits, err = g.Store.PhoneticSearch(ctx, q.DMCodes, g.topK(g.TopKPhonetic, 50))
		}
		if err != nil {
			g.logFailure(ctx, "phonetic", err)
			hits = nil
		}
		ch <- result{registry.ViewPhonetic, hits}
	}()

	out := make(map[registry.ViewTag][]registry.ViewHit, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		out[r.tag] = r.hits
	}
	return out
}

func (g *Generators) topK(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (g *Generators) logFailure(ctx context.Context, view string, err error) {
	if g.Log == nil {
		return
	}
	g.Log.Warn(ctx, "candidate view failed, degrading to empty", map[string]any{
		"view":  view,
		"error": err.Error(),
	})
}
