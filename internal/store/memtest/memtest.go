// Package memtest is an in-memory registry.Store + registry.ReviewStore +
// embedding.PersistentCache implementation, standing in for Postgres so
// pipeline and HTTP tests run without a live database. It reproduces the
// same trigram/ANN/array-intersection semantics the storage contract
// requires, computed in plain Go rather than pushed down to an index.
package memtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chartlydata/payee-match/internal/embedding"
	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/registry"
)

// Store is a mutex-guarded, in-memory Store.
type Store struct {
	mu       sync.RWMutex
	byID     map[int64]registry.Payee
	byCanon  map[string][]int64
	byExtID  map[string]int64
	nextID   int64
}

func New() *Store {
	return &Store{
		byID:    make(map[int64]registry.Payee),
		byCanon: make(map[string][]int64),
		byExtID: make(map[string]int64),
	}
}

func (s *Store) ExactByCanon(_ context.Context, canon string) (registry.Payee, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCanon[canon]
	if len(ids) == 0 {
		return registry.Payee{}, false, nil
	}
	return s.byID[ids[0]], true, nil
}

func (s *Store) TrigramSearch(_ context.Context, canon string, topK int) ([]registry.ViewHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qTri := trigrams(canon)
	hits := make([]registry.ViewHit, 0, len(s.byID))
	for id, p := range s.byID {
		sim := trigramSimilarity(qTri, trigrams(p.NameCanon))
		if sim <= 0 {
			continue
		}
		hits = append(hits, registry.ViewHit{PayeeID: id, ViewScore: sim, Tag: registry.ViewTrigram})
	}
	return topSorted(hits, topK), nil
}

func (s *Store) VectorSearch(_ context.Context, vec []float32, topK int) ([]registry.ViewHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]registry.ViewHit, 0, len(s.byID))
	for id, p := range s.byID {
		if len(p.NameVec) == 0 {
			continue
		}
		sim := 1 - cosineDistance(vec, p.NameVec)
		hits = append(hits, registry.ViewHit{PayeeID: id, ViewScore: sim, Tag: registry.ViewVector})
	}
	return topSorted(hits, topK), nil
}

func (s *Store) PhoneticSearch(_ context.Context, codes []string, topK int) ([]registry.ViewHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qSet := toSet(codes)
	hits := make([]registry.ViewHit, 0, len(s.byID))
	for id, p := range s.byID {
		cSet := toSet(p.DMCodes)
		inter, union := 0, len(qSet)
		for c := range cSet {
			if !qSet[c] {
				union++
			} else {
				inter++
			}
		}
		if inter == 0 || union == 0 {
			continue
		}
		hits = append(hits, registry.ViewHit{PayeeID: id, ViewScore: float64(inter) / float64(union), Tag: registry.ViewPhonetic})
	}
	return topSorted(hits, topK), nil
}

func (s *Store) GetByIDs(_ context.Context, ids []int64) ([]registry.Payee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.Payee, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) Upsert(_ context.Context, p registry.Payee) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ExternalID != "" {
		if existingID, ok := s.byExtID[p.ExternalID]; ok {
			existing := s.byID[existingID]
			p.PayeeID = existing.PayeeID
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = time.Now().UTC()
			s.removeCanonIndex(existing)
			s.byID[p.PayeeID] = p
			s.addCanonIndex(p)
			return false, nil
		}
	}

	s.nextID++
	p.PayeeID = s.nextID
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.byID[p.PayeeID] = p
	s.addCanonIndex(p)
	if p.ExternalID != "" {
		s.byExtID[p.ExternalID] = p.PayeeID
	}
	return true, nil
}

func (s *Store) addCanonIndex(p registry.Payee) {
	s.byCanon[p.NameCanon] = append(s.byCanon[p.NameCanon], p.PayeeID)
}

func (s *Store) removeCanonIndex(p registry.Payee) {
	ids := s.byCanon[p.NameCanon]
	out := ids[:0]
	for _, id := range ids {
		if id != p.PayeeID {
			out = append(out, id)
		}
	}
	s.byCanon[p.NameCanon] = out
}

func (s *Store) AllTokenSets(_ context.Context) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p.NameTokens)
	}
	return out, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// ---- review store ----

// ReviewStore is a mutex-guarded in-memory registry.ReviewStore.
type ReviewStore struct {
	mu     sync.Mutex
	items  map[string]registry.ReviewItem
	labels []registry.Label
}

func NewReviewStore() *ReviewStore {
	return &ReviewStore{items: make(map[string]registry.ReviewItem)}
}

func (r *ReviewStore) CreateReviewItem(_ context.Context, item registry.ReviewItem) (registry.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return item, nil
}

func (r *ReviewStore) GetReviewItem(_ context.Context, id string) (registry.ReviewItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	return item, ok, nil
}

func (r *ReviewStore) ListOpenReviewItems(_ context.Context, limit int) ([]registry.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.ReviewItem, 0)
	for _, item := range r.items {
		if item.Status == registry.ReviewOpen {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReviewStore) Resolve(_ context.Context, id string, approved bool, payeeID int64, notes string) (registry.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return registry.ReviewItem{}, errs.New(errs.ReviewNotFound, fmt.Errorf("review item %s: %w", id, errs.ErrNotFound))
	}
	if item.Status != registry.ReviewOpen {
		return registry.ReviewItem{}, errs.New(errs.ReviewAlreadyResolved, fmt.Errorf("review item %s: %w", id, errs.ErrAlreadyResolved))
	}
	now := time.Now().UTC()
	item.ReviewedAt = &now
	item.ReviewerNotes = notes
	if approved {
		item.Status = registry.ReviewApproved
	} else {
		item.Status = registry.ReviewRejected
	}
	r.items[id] = item
	r.labels = append(r.labels, registry.Label{
		QNameRaw:   item.QNameRaw,
		QNameCanon: item.QNameCanon,
		PayeeID:    payeeID,
		Y:          approved,
	})
	return item, nil
}

func (r *ReviewStore) Labels() []registry.Label {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Label(nil), r.labels...)
}

// ---- embedding persistent cache ----

// EmbeddingCache is a mutex-guarded in-memory embedding.PersistentCache.
type EmbeddingCache struct {
	mu      sync.Mutex
	records map[string]embedding.Record
}

func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{records: make(map[string]embedding.Record)}
}

func (c *EmbeddingCache) Get(_ context.Context, key string) (embedding.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return rec, ok, nil
}

func (c *EmbeddingCache) PutIfAbsent(_ context.Context, rec embedding.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s:%s:%s", rec.Provider, rec.Model, rec.TextHash)
	if _, ok := c.records[key]; ok {
		return nil
	}
	c.records[key] = rec
	return nil
}

// ---- helpers ----

func trigrams(s string) map[string]bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return map[string]bool{s: true}
	}
	out := make(map[string]bool)
	for i := 0; i+3 <= len(s); i++ {
		out[s[i:i+3]] = true
	}
	return out
}

func trigramSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func topSorted(hits []registry.ViewHit, topK int) []registry.ViewHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].ViewScore != hits[j].ViewScore {
			return hits[i].ViewScore > hits[j].ViewScore
		}
		return hits[i].PayeeID < hits[j].PayeeID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
