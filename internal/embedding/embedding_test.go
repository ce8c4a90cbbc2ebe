package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/chartlydata/payee-match/internal/store/memtest"
)

func TestLocalProviderDeterministic(t *testing.T) {
	l := NewLocalProvider(16)
	a, err := l.Embed(context.Background(), "microsoft")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	b, _ := l.Embed(context.Background(), "microsoft")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Embed() not deterministic at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalProviderUnitNorm(t *testing.T) {
	l := NewLocalProvider(32)
	vec, err := l.Embed(context.Background(), "apple inc")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("||vec|| = %v, want ~1.0", norm)
	}
}

func TestLocalProviderDistinctTextsDiffer(t *testing.T) {
	l := NewLocalProvider(16)
	a, _ := l.Embed(context.Background(), "microsoft")
	b, _ := l.Embed(context.Background(), "apple")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected distinct inputs to produce distinct vectors")
	}
}

func TestLocalProviderEmptyTextIsZeroVector(t *testing.T) {
	l := NewLocalProvider(8)
	vec, err := l.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected all-zero vector for empty text, got %v", vec)
		}
	}
}

type failingProvider struct{}

func (failingProvider) Name() string  { return "failing" }
func (failingProvider) Model() string { return "v0" }
func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("remote unavailable")
}

func TestFallbackProviderUsesLocalOnRemoteError(t *testing.T) {
	local := NewLocalProvider(8)
	f := NewFallbackProvider(failingProvider{}, local, nil)
	vec, err := f.Embed(context.Background(), "microsoft")
	if err != nil {
		t.Fatalf("Embed() error: %v, want fallback to succeed", err)
	}
	want, _ := local.Embed(context.Background(), "microsoft")
	for i := range vec {
		if vec[i] != want[i] {
			t.Fatalf("fallback vector mismatch at %d", i)
		}
	}
}

func TestFallbackProviderNilRemoteUsesLocal(t *testing.T) {
	local := NewLocalProvider(8)
	f := NewFallbackProvider(nil, local, nil)
	vec, err := f.Embed(context.Background(), "microsoft")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vec) != 8 {
		t.Errorf("len(vec) = %d, want 8", len(vec))
	}
}

type countingProvider struct {
	calls int
	vec   []float32
}

func (c *countingProvider) Name() string  { return "counting" }
func (c *countingProvider) Model() string { return "v1" }
func (c *countingProvider) Embed(context.Context, string) ([]float32, error) {
	c.calls++
	return c.vec, nil
}

func TestCacheReadsThroughOnce(t *testing.T) {
	backing := memtest.NewEmbeddingCache()
	cache, err := NewCache(10, backing, nil)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	provider := &countingProvider{vec: []float32{1, 0, 0}}

	v1, err := cache.Embed(context.Background(), provider, "microsoft")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	v2, err := cache.Embed(context.Background(), provider, "microsoft")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1 (second call should hit the LRU)", provider.calls)
	}
	if len(v1) != len(v2) || v1[0] != v2[0] {
		t.Errorf("cached vector mismatch: %v vs %v", v1, v2)
	}
}

func TestCacheEmptyTextReturnsNil(t *testing.T) {
	backing := memtest.NewEmbeddingCache()
	cache, err := NewCache(10, backing, nil)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	vec, err := cache.Embed(context.Background(), &countingProvider{}, "")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if vec != nil {
		t.Errorf("Embed(\"\") = %v, want nil", vec)
	}
}

func TestCachePersistsAcrossNewLRU(t *testing.T) {
	backing := memtest.NewEmbeddingCache()
	provider := &countingProvider{vec: []float32{0, 1, 0}}

	cache1, _ := NewCache(10, backing, nil)
	if _, err := cache1.Embed(context.Background(), provider, "microsoft"); err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	// A fresh Cache with an empty LRU but the same backing store must still
	// avoid calling the provider again.
	cache2, _ := NewCache(10, backing, nil)
	if _, err := cache2.Embed(context.Background(), provider, "microsoft"); err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times across two Cache instances sharing a backing store, want 1", provider.calls)
	}
}
