package orm

import (
	"context"
	"time"
)

// Clock provides the current time. Implementations can return fixed
// times for deterministic testing.
type Clock interface {
	Now() time.Time
}

type clockKey struct{}

// WithClock returns a child context carrying the given Clock.
// Post, PostAll, Put and PutAll use it instead of time.Now() when stamping
// the timestamp columns declared with Timestamps.
func WithClock(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, c)
}

// now returns the current time from the Clock in ctx, or time.Now()
// if no Clock is present.
func now(ctx context.Context) time.Time {
	if c, ok := ctx.Value(clockKey{}).(Clock); ok {
		return c.Now()
	}
	return time.Now()
}

// timestamps names the columns stamped on writes. Empty names are skipped.
type timestamps struct {
	created string
	updated string
}

// stamp sets the timestamp columns of a write payload. Creates fill both
// columns unless the caller set them; updates always refresh the update
// column.
func (ts timestamps) stamp(ctx context.Context, row Row, create bool) {
	if ts.created == "" && ts.updated == "" {
		return
	}
	t := now(ctx)
	if create {
		if _, ok := row[ts.created]; ts.created != "" && !ok {
			row[ts.created] = t
		}
		if _, ok := row[ts.updated]; ts.updated != "" && !ok {
			row[ts.updated] = t
		}
		return
	}
	if ts.updated != "" {
		row[ts.updated] = t
	}
}
