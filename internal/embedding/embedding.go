// Package embedding maps canonical text to a fixed-dimension unit vector,
// behind a read-through LRU-over-persistent-cache, with a remote provider
// that degrades to a deterministic local fallback on any failure.
package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chartlydata/payee-match/internal/idempotency"
	"github.com/chartlydata/payee-match/internal/telemetry"
)

// Provider maps text to a fixed-dim vector. Empty text yields a zero
// vector. Implementations must not return a non-unit-norm vector for
// non-empty text.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record is a persisted embedding-cache entry (§3).
type Record struct {
	TextHash string
	Text     string
	Vector   []float32
	Provider string
	Model    string
}

// PersistentCache is the durable, insert-if-absent key/value layer behind
// the in-process LRU. internal/store/postgres and internal/store/memtest
// both implement it.
type PersistentCache interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	PutIfAbsent(ctx context.Context, rec Record) error
}

// Cache is a read-through LRU in front of a PersistentCache. The LRU is
// keyed by idempotency.BuildKey(provider, model, text_hash); the
// persistent layer is read under "<provider>:<model>:<text_hash>", the key
// its implementations write a Record under.
type Cache struct {
	lru     *lru.Cache[string, Record]
	backing PersistentCache
	log     *telemetry.Logger
}

// NewCache builds a Cache with a fixed-capacity in-process LRU in front of
// backing.
func NewCache(capacity int, backing PersistentCache, log *telemetry.Logger) (*Cache, error) {
	if log == nil {
		log = telemetry.Nop
	}
	l, err := lru.New[string, Record](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, backing: backing, log: log}, nil
}

func (c *Cache) key(p Provider, text string) string {
	k, err := idempotency.BuildKey(p.Name(), p.Model(), idempotency.TextHash(text))
	if err != nil {
		return idempotency.TextHash(text)
	}
	return k
}

// Embed returns the vector for text, consulting the LRU then the
// persistent cache before calling p.Embed. Cache errors are logged and
// bypassed; they never cause Embed to fail.
func (c *Cache) Embed(ctx context.Context, p Provider, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	key := c.key(p, text)
	if rec, ok := c.lru.Get(key); ok {
		return rec.Vector, nil
	}
	if c.backing != nil {
		pkey := p.Name() + ":" + p.Model() + ":" + idempotency.TextHash(text)
		rec, found, err := c.backing.Get(ctx, pkey)
		if err != nil {
			c.log.Warn(ctx, "embedding cache read failed, bypassing", map[string]any{"error": err.Error()})
		} else if found {
			c.lru.Add(key, rec)
			return rec.Vector, nil
		}
	}

	vec, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	rec := Record{
		TextHash: idempotency.TextHash(text),
		Text:     text,
		Vector:   vec,
		Provider: p.Name(),
		Model:    p.Model(),
	}
	c.lru.Add(key, rec)
	if c.backing != nil {
		if err := c.backing.PutIfAbsent(ctx, rec); err != nil {
			c.log.Warn(ctx, "embedding cache write failed, bypassing", map[string]any{"error": err.Error()})
		}
	}
	return vec, nil
}

// FallbackProvider wraps a remote Provider and a LocalProvider, falling
// back to local on any remote error. Failures never propagate to the
// caller.
type FallbackProvider struct {
	Remote Provider
	Local  *LocalProvider
	log    *telemetry.Logger
}

// NewFallbackProvider builds a FallbackProvider. remote may be nil, in
// which case Embed always uses the local deterministic fallback.
func NewFallbackProvider(remote Provider, local *LocalProvider, log *telemetry.Logger) *FallbackProvider {
	if log == nil {
		log = telemetry.Nop
	}
	return &FallbackProvider{Remote: remote, Local: local, log: log}
}

func (f *FallbackProvider) Name() string {
	if f.Remote != nil {
		return f.Remote.Name()
	}
	return f.Local.Name()
}

func (f *FallbackProvider) Model() string {
	if f.Remote != nil {
		return f.Remote.Model()
	}
	return f.Local.Model()
}

func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, f.Local.dim), nil
	}
	if f.Remote != nil {
		vec, err := f.Remote.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		f.log.Warn(ctx, "remote embedding provider failed, using local fallback", map[string]any{"error": err.Error()})
	}
	return f.Local.Embed(ctx, text)
}

// LocalProvider is a deterministic, seeded random-projection embedding
// used for offline development and tests. It MUST NOT be mistaken for a
// learned embedding: it exists purely to keep the rest of the pipeline
// testable without a remote dependency.
type LocalProvider struct {
	dim int
}

// NewLocalProvider returns a LocalProvider producing unit vectors of
// dimension dim.
func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = 1024
	}
	return &LocalProvider{dim: dim}
}

func (l *LocalProvider) Name() string  { return "local" }
func (l *LocalProvider) Model() string { return "seeded-random-projection-v1" }

// Embed derives a seed from the SHA-256 of text and fills a Gaussian
// vector from a seeded PRNG, then normalizes to unit length. Identical
// text always yields the bitwise-identical vector.
func (l *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, l.dim), nil
	}
	sum := sha256.Sum256([]byte(text))
	var seed int64
	for i := 0; i < 8; i++ {
		seed = seed<<8 | int64(sum[i])
	}
	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, l.dim)
	var sumSq float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
