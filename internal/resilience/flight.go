package resilience

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Flight collapses concurrent calls for the same key into one outbound call.
//
// The shared call runs on a context detached from the caller that started
// it, so one caller giving up does not fail the others. It keeps that
// caller's values; attempts stay bounded by the HTTP client timeout and the
// retry policy. Each caller stops waiting when its own context ends.
type Flight[T any] struct {
	group singleflight.Group
}

// Do runs fn once per key among overlapping callers and returns its result
// to each of them.
func (f *Flight[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ch := f.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}
