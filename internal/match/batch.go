package match

import (
	"context"
	"sync"
)

// BatchResult pairs one input query with its Response, preserving input
// order regardless of which worker finished first (§5: "order of results
// MUST match order of inputs").
type BatchResult struct {
	Query    string
	Response Response
	Err      error
}

// Batch fans queries across a fixed-size worker pool and returns results
// in input order. workers <= 0 defaults to 8 (§6 batch_workers default).
func (p *Pipeline) Batch(ctx context.Context, queries []string, workers int) []BatchResult {
	if workers <= 0 {
		workers = 8
	}
	if workers > len(queries) {
		workers = len(queries)
	}
	if workers == 0 {
		return nil
	}

	results := make([]BatchResult, len(queries))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				resp, err := p.Match(ctx, queries[idx])
				results[idx] = BatchResult{Query: queries[idx], Response: resp, Err: err}
			}
		}()
	}

	for i := range queries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// StreamBatch is like Batch but invokes emit once per input, in order, as
// soon as that input's result is ready to be flushed — used by the
// newline-delimited-JSON streaming response. Because worker completion
// order is not guaranteed, results are buffered and flushed in index
// order as they become available, signaled by a condition variable
// rather than polled.
func (p *Pipeline) StreamBatch(ctx context.Context, queries []string, workers int, emit func(BatchResult)) {
	if workers <= 0 {
		workers = 8
	}
	if workers > len(queries) {
		workers = len(queries)
	}
	if workers == 0 {
		return
	}

	results := make([]*BatchResult, len(queries))
	mu := &sync.Mutex{}
	cond := sync.NewCond(mu)
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				resp, err := p.Match(ctx, queries[idx])
				r := BatchResult{Query: queries[idx], Response: resp, Err: err}
				mu.Lock()
				results[idx] = &r
				cond.Signal()
				mu.Unlock()
			}
		}()
	}

	go func() {
		for i := range queries {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		mu.Lock()
		cond.Signal()
		mu.Unlock()
	}()

	mu.Lock()
	defer mu.Unlock()
	flushed := 0
	for flushed < len(queries) {
		for flushed < len(results) && results[flushed] != nil {
			r := *results[flushed]
			mu.Unlock()
			emit(r)
			mu.Lock()
			flushed++
		}
		if flushed < len(queries) {
			cond.Wait()
		}
	}
}
