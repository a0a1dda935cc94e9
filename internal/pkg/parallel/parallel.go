package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result holds one item's outcome from a bounded Map run.
type Result[T any] struct {
	Value T
	Err   error
}

// Map runs fn over items with at most limit workers and returns per-item
// results in input order. Item errors are captured, not propagated: one
// item failing never cancels its siblings. Only a canceled context stops
// the run early.
func Map[I any, T any](ctx context.Context, items []I, limit int, fn func(ctx context.Context, index int, item I) (T, error)) ([]Result[T], error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]Result[T], len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range items {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			v, err := fn(gctx, i, items[i])
			out[i] = Result[T]{Value: v, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// MapStrict is Map with fail-fast semantics: the first item error cancels
// the remaining workers and is returned. Used where a single bad unit
// invalidates the whole stage.
func MapStrict[I any, T any](ctx context.Context, items []I, limit int, fn func(ctx context.Context, index int, item I) (T, error)) ([]T, error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]T, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range items {
		i := i
		g.Go(func() error {
			v, err := fn(gctx, i, items[i])
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
