package orm

import "context"

// Adapter executes queries against a storage backend.
//
// Adapters read the query through its accessors. They return an empty row
// list, not an error, when nothing matches; the builder turns that into
// ErrNotFound for single-row operations. Errors are passed through to the
// caller unmodified.
type Adapter interface {
	// Get returns the rows matching the predicate, honouring projection,
	// ordering, limit and offset.
	Get(ctx context.Context, q *Query) ([]Row, error)

	// Count returns the number of matching rows for q.CountRequest().
	Count(ctx context.Context, q *Query) (int64, error)

	// Post inserts q.Payload() and returns one row per payload row with the
	// primary key columns populated.
	Post(ctx context.Context, q *Query) ([]Row, error)

	// Put applies the single row in q.Payload() to every matching row.
	Put(ctx context.Context, q *Query) error

	// Del removes every matching row.
	Del(ctx context.Context, q *Query) error
}
