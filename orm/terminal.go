package orm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Load dispatches q to the adapter according to its operation. Reads resolve
// activated relations and then run the transforms in order. Creates return
// the inserted rows; updates and deletes return no rows.
func (q *Query) Load(ctx context.Context) ([]Row, error) {
	if q.err != nil {
		return nil, q.err
	}
	log := q.store.log(ctx)
	log.Trace().Str("table", q.table).Stringer("op", q.op).Msg("dispatch")

	switch q.op {
	case OpCreate:
		if len(q.payload) == 0 {
			return nil, ErrMissingPayload
		}
		return q.store.adapter.Post(ctx, q) //nolint:wrapcheck // pass through
	case OpUpdate:
		if len(q.payload) == 0 || len(q.payload[0]) == 0 {
			log.Trace().Str("table", q.table).Msg("empty payload, skipping update")
			return nil, nil
		}
		if q.pred.MatchesNothing() {
			return nil, nil
		}
		return nil, q.store.adapter.Put(ctx, q) //nolint:wrapcheck // pass through
	case OpDelete:
		if q.pred.MatchesNothing() {
			return nil, nil
		}
		return nil, q.store.adapter.Del(ctx, q) //nolint:wrapcheck // pass through
	}
	return q.read(ctx)
}

func (q *Query) read(ctx context.Context) ([]Row, error) {
	var rows []Row
	if q.pred.MatchesNothing() {
		q.store.log(ctx).Trace().Str("table", q.table).Msg("predicate matches nothing, skipping read")
	} else {
		var err error
		rows, err = q.store.adapter.Get(ctx, q)
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
	}
	if !q.collection && len(rows) > 1 {
		rows = rows[:1]
	}

	rows, err := q.resolve(ctx, rows)
	if err != nil {
		return nil, err
	}
	for _, t := range q.transforms {
		if rows, err = t(rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// All loads every matching row.
func (q *Query) All(ctx context.Context) ([]Row, error) {
	q2 := q.clone()
	q2.op = OpRead
	q2.collection = true
	return q2.Load(ctx)
}

// One loads a single row. It returns ErrNotFound when nothing matches.
func (q *Query) One(ctx context.Context) (Row, error) {
	q2 := q.clone()
	q2.op = OpRead
	q2.collection = false
	if q2.limit == 0 {
		q2.limit = 1
	}
	rows, err := q2.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// Count returns the number of matching rows. Without a column it counts
// distinct primary keys, otherwise the non-null values of the column.
func (q *Query) Count(ctx context.Context, column ...string) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	q2 := q.clone()
	q2.op = OpRead
	q2.orderBys = nil
	q2.count = &CountRequest{}
	if len(column) > 0 {
		q2.count.Column = column[0]
	}
	if q2.pred.MatchesNothing() {
		return 0, nil
	}
	return q.store.adapter.Count(ctx, q2) //nolint:wrapcheck // pass through
}

// First returns the first row matching where. It returns ErrNotFound when
// nothing matches.
func (q *Query) First(ctx context.Context, where map[string]any) (Row, error) {
	return q.Where(where).Limit(1).One(ctx)
}

type getOptions struct {
	omitWhere bool
}

// GetOption configures Get.
type GetOption func(*getOptions)

// OmitWhere makes Get discard the accumulated predicate and select by
// identity only.
func OmitWhere() GetOption {
	return func(o *getOptions) { o.omitWhere = true }
}

// Get returns the row whose primary key is id. A composite key takes a slice
// holding one value per key column, in key order.
//
//	store.Table("membership").Get(ctx, []any{2, 3})
func (q *Query) Get(ctx context.Context, id any, opts ...GetOption) (Row, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	if q.err != nil {
		return nil, q.err
	}
	p, err := q.whereID(id)
	if err != nil {
		return nil, err
	}
	q2 := q.clone()
	if o.omitWhere {
		q2.pred = p
	} else {
		q2.pred = q2.pred.Merge(p)
	}
	q2.limit = 1
	q2.offset = 0
	return q2.One(ctx)
}

// Put updates the row whose primary key is id with data, then reconciles the
// activated through relations present in data. It returns data.
func (q *Query) Put(ctx context.Context, id any, data Row) (Row, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w for put", ErrMissingPayload)
	}
	if q.err != nil {
		return nil, q.err
	}
	p, err := q.whereID(id)
	if err != nil {
		return nil, err
	}
	q2 := q.clone()
	q2.pred = p
	payload := q.project(data)
	q.timestamps.stamp(ctx, payload, false)
	if err := q2.update(ctx, payload); err != nil {
		return nil, err
	}
	if err := q.reconcile(ctx, id, data); err != nil {
		return nil, err
	}
	return data, nil
}

// PutAll applies data to every row matching the accumulated predicate.
func (q *Query) PutAll(ctx context.Context, data Row) error {
	if len(data) == 0 {
		return fmt.Errorf("%w for put", ErrMissingPayload)
	}
	payload := q.project(data)
	q.timestamps.stamp(ctx, payload, false)
	return q.update(ctx, payload)
}

// Post inserts data, writes the generated primary key back into data and
// reconciles the activated through relations present in data.
func (q *Query) Post(ctx context.Context, data Row) (Row, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w for post", ErrMissingPayload)
	}
	out, err := q.PostAll(ctx, []Row{data})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// PostAll inserts every row of data in one create, writes the generated
// primary keys back and reconciles each row's through relations concurrently.
func (q *Query) PostAll(ctx context.Context, data []Row) ([]Row, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w for post", ErrMissingPayload)
	}
	payload := make([]Row, len(data))
	for i, row := range data {
		if len(row) == 0 {
			return nil, fmt.Errorf("%w for post: row %d is empty", ErrMissingPayload, i)
		}
		payload[i] = q.project(row)
		q.timestamps.stamp(ctx, payload[i], true)
	}
	created, err := q.create(ctx, payload)
	if err != nil {
		return nil, err
	}
	for i, row := range data {
		if i >= len(created) {
			break
		}
		for _, col := range q.pk {
			if v, ok := created[i][col]; ok {
				row[col] = v
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, row := range data {
		g.Go(func() error {
			return q.reconcile(gctx, q.identity(row), row)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	return data, nil
}

// Del deletes the row whose primary key is id.
func (q *Query) Del(ctx context.Context, id any) error {
	if q.err != nil {
		return q.err
	}
	p, err := q.whereID(id)
	if err != nil {
		return err
	}
	q2 := q.clone()
	q2.pred = p
	return q2.DelAll(ctx)
}

// DelAll deletes every row matching the accumulated predicate.
func (q *Query) DelAll(ctx context.Context) error {
	q2 := q.clone()
	q2.op = OpDelete
	q2.collection = true
	_, err := q2.Load(ctx)
	return err
}

// create inserts data as is, without projection or reconciliation.
func (q *Query) create(ctx context.Context, data []Row) ([]Row, error) {
	q2 := q.clone()
	q2.op = OpCreate
	q2.collection = len(data) > 1
	q2.payload = data
	return q2.Load(ctx)
}

// update applies row as is to the rows matching the accumulated predicate.
func (q *Query) update(ctx context.Context, row Row) error {
	q2 := q.clone()
	q2.op = OpUpdate
	q2.collection = true
	q2.payload = []Row{row}
	_, err := q2.Load(ctx)
	return err
}

// identity returns the id of row: a scalar for a single column primary key,
// a slice otherwise.
func (q *Query) identity(row Row) any {
	if len(q.pk) == 1 {
		return row[q.pk[0]]
	}
	id := make([]any, len(q.pk))
	for i, col := range q.pk {
		id[i] = row[col]
	}
	return id
}
