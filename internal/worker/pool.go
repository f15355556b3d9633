// Package worker provides a bounded fan-out/fan-in pool for per-file work
// such as hashing manifest entries.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Result pairs a processed value with its input index.
type Result[T any] struct {
	Index int
	Item  string
	Value T
	Err   error
}

// Pool runs work items on a fixed number of goroutines.
type Pool[T any] struct {
	concurrency int
}

// NewPool creates a pool. concurrency <= 0 selects runtime.NumCPU().
func NewPool[T any](concurrency int) *Pool[T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[T]{concurrency: concurrency}
}

// Process applies fn to every item and returns results in input order.
// Per-item errors are captured in the result rather than aborting the batch.
// Items not yet started when ctx is done are reported with ctx.Err().
func (p *Pool[T]) Process(ctx context.Context, items []string, fn func(context.Context, string) (T, error)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int, len(items))
	results := make([]Result[T], len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r := Result[T]{Index: i, Item: items[i]}
				if err := ctx.Err(); err != nil {
					r.Err = err
				} else {
					r.Value, r.Err = fn(ctx, items[i])
				}
				results[i] = r
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
