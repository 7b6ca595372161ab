package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn for every item with at most limit calls in flight. The
// first error cancels the context handed to the remaining calls and is
// returned.
func ForEach[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) error) error {
	if limit <= 0 {
		limit = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}
