// Package executor runs batch work with a fixed concurrency budget.
package executor

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the worker budget used when callers pass a
// non-positive limit.
const DefaultConcurrency = 5

// Result is the outcome of one item. Results are index-aligned with the input.
type Result[R any] struct {
	Value R
	Err   error
}

// RunBounded runs worker over items with at most limit invocations in flight.
// Items that have not started when ctx is done are not run; their result
// carries ctx.Err(). Worker errors never stop sibling items.
func RunBounded[T, R any](ctx context.Context, items []T, limit int, worker func(ctx context.Context, index int, item T) (R, error)) []Result[R] {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	results := make([]Result[R], len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			v, err := worker(ctx, i, item)
			results[i] = Result[R]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FirstError returns the error of the lowest-index failed result, preferring
// failures that are not context cancellations.
func FirstError[R any](results []Result[R]) (int, error) {
	idx, first := -1, error(nil)
	for i, r := range results {
		if r.Err == nil {
			continue
		}
		if !errors.Is(r.Err, context.Canceled) && !errors.Is(r.Err, context.DeadlineExceeded) {
			return i, r.Err
		}
		if first == nil {
			idx, first = i, r.Err
		}
	}
	return idx, first
}
