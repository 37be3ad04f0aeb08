package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn over items concurrently (at most limit at a time; limit <= 0 means
// unbounded) and returns the results in input order. The first error cancels the
// remaining work and is returned.
func FanOut[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
