// Package idf implements the corpus-wide inverse-document-frequency cache,
// built once at startup from registry tokens and immutable thereafter.
package idf

import "math"

// Cache is an immutable snapshot of idf(t) = log(N / df(t)) over the
// registry's token population. Tokens unseen at query time contribute 0,
// not log(N), keeping idf_overlap well-bounded for novel tokens.
type Cache struct {
	n   int
	idf map[string]float64
}

// Build computes a Cache from docs, one token set per registry payee.
// Tokens within a single document are deduplicated by the caller's
// contract (canon.Result.Tokens already is); Build also dedupes
// defensively.
func Build(docs [][]string) *Cache {
	df := make(map[string]int)
	n := 0
	for _, doc := range docs {
		n++
		seen := make(map[string]bool, len(doc))
		for _, t := range doc {
			if seen[t] {
				continue
			}
			seen[t] = true
			df[t]++
		}
	}
	out := make(map[string]float64, len(df))
	for t, d := range df {
		if d <= 0 {
			continue
		}
		out[t] = math.Log(float64(n) / float64(d))
	}
	return &Cache{n: n, idf: out}
}

// Empty returns a Cache with no documents; every lookup returns 0.
func Empty() *Cache {
	return &Cache{n: 0, idf: map[string]float64{}}
}

// Get returns idf(t), or 0 for a token never seen at build time.
func (c *Cache) Get(t string) float64 {
	if c == nil {
		return 0
	}
	return c.idf[t]
}

// N returns the document count the cache was built over.
func (c *Cache) N() int {
	if c == nil {
		return 0
	}
	return c.n
}
