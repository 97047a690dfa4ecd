// Package memstore is an in-memory orm.Adapter backed by go-memdb. It keeps
// every table in one memdb table indexed by insertion order, table name and
// primary key, and evaluates predicates in process.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/zerolog"

	"github.com/mickamy/relq/orm"
	"github.com/mickamy/relq/predicate"
)

// ErrDuplicateKey is returned when a write would give two rows of a table
// the same primary key.
var ErrDuplicateKey = errors.New("memstore: duplicate primary key")

// Store is an in-memory orm.Adapter. It is safe for concurrent use; every
// call runs in its own memdb transaction.
type Store struct {
	db  *memdb.MemDB
	seq atomic.Uint64
}

var _ orm.Adapter = (*Store)(nil)

// New returns an empty Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	return &Store{db: db}, nil
}

// Snapshot returns copies of the rows of table in insertion order.
func (s *Store) Snapshot(table string) []orm.Row {
	txn := s.db.Txn(false)
	defer txn.Abort()

	recs, err := scan(txn, table)
	if err != nil {
		return nil
	}
	out := make([]orm.Row, len(recs))
	for i, r := range recs {
		out[i] = r.row.Clone()
	}
	return out
}

// Tables lists the tables holding at least one row.
func (s *Store) Tables() []string {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableRows, indexID)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		name := obj.(*record).table
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func scan(txn *memdb.Txn, table string) ([]*record, error) {
	it, err := txn.Get(tableRows, indexName, table)
	if err != nil {
		return nil, fmt.Errorf("memstore: scan %s: %w", table, err)
	}
	var recs []*record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		recs = append(recs, obj.(*record))
	}
	slices.SortFunc(recs, func(a, b *record) int { return cmp.Compare(a.seq, b.seq) })
	return recs, nil
}

// matching returns the records of q's table matched by q's predicate.
func matching(txn *memdb.Txn, q *orm.Query) ([]*record, error) {
	recs, err := scan(txn, q.TableName())
	if err != nil {
		return nil, err
	}
	p := q.Predicate()
	return slices.DeleteFunc(recs, func(r *record) bool { return !p.Match(r.row) }), nil
}

// Get returns copies of the matching rows, ordered, paginated and projected.
func (s *Store) Get(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	recs, err := matching(txn, q)
	if err != nil {
		return nil, err
	}
	if orders := q.OrderBys(); len(orders) > 0 {
		slices.SortStableFunc(recs, func(a, b *record) int {
			for _, o := range orders {
				c := predicate.Compare(a.row[o.Column], b.row[o.Column])
				if o.Direction == orm.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if off := q.OffsetValue(); off > 0 {
		recs = recs[min(off, len(recs)):]
	}
	if limit := q.LimitValue(); limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	cols := q.ProjectedColumns()
	out := make([]orm.Row, len(recs))
	for i, r := range recs {
		if len(cols) > 0 {
			out[i] = r.row.Pick(cols)
		} else {
			out[i] = r.row.Clone()
		}
	}
	zerolog.Ctx(ctx).Trace().Str("table", q.TableName()).Int("rows", len(out)).Msg("memstore get")
	return out, nil
}

// Count counts matching rows, or the non-null values of the requested column.
func (s *Store) Count(_ context.Context, q *orm.Query) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	recs, err := matching(txn, q)
	if err != nil {
		return 0, err
	}
	req := q.CountRequest()
	if req == nil || req.Column == "" {
		return int64(len(recs)), nil
	}
	var n int64
	for _, r := range recs {
		if r.row[req.Column] != nil {
			n++
		}
	}
	return n, nil
}

// Post inserts the payload rows in one transaction. A missing single-column
// integer primary key is assigned the table's highest key plus one.
func (s *Store) Post(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	pk := q.PrimaryKey()
	txn := s.db.Txn(true)
	defer txn.Abort()

	out := make([]orm.Row, 0, len(q.Payload()))
	for _, data := range q.Payload() {
		row := data.Clone()
		if len(pk) == 1 && row[pk[0]] == nil {
			next, err := nextID(txn, q.TableName(), pk[0])
			if err != nil {
				return nil, err
			}
			row[pk[0]] = next
		}
		rec := &record{seq: s.seq.Add(1), table: q.TableName(), key: rowKey(row, pk), row: row}
		if err := insert(txn, rec); err != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Trace().Object("record", rec).Msg("memstore insert")
		out = append(out, row.Pick(pk))
	}
	txn.Commit()
	return out, nil
}

// Put merges the payload row into every matching row in one transaction.
func (s *Store) Put(_ context.Context, q *orm.Query) error {
	payload := q.Payload()
	if len(payload) == 0 {
		return nil
	}
	pk := q.PrimaryKey()
	txn := s.db.Txn(true)
	defer txn.Abort()

	recs, err := matching(txn, q)
	if err != nil {
		return err
	}
	for _, old := range recs {
		row := old.row.Clone()
		for k, v := range payload[0] {
			row[k] = v
		}
		rec := &record{seq: old.seq, table: old.table, key: rowKey(row, pk), row: row}
		if err := insert(txn, rec); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// Del removes every matching row in one transaction.
func (s *Store) Del(_ context.Context, q *orm.Query) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	recs, err := matching(txn, q)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := txn.Delete(tableRows, r); err != nil {
			return fmt.Errorf("memstore: delete from %s: %w", r.table, err)
		}
	}
	txn.Commit()
	return nil
}

// insert stores rec, refusing to shadow another row with the same key.
func insert(txn *memdb.Txn, rec *record) error {
	existing, err := txn.First(tableRows, indexKey, rec.table, rec.key)
	if err != nil {
		return fmt.Errorf("memstore: lookup %s: %w", rec.table, err)
	}
	if existing != nil && existing.(*record).seq != rec.seq {
		return fmt.Errorf("%w: %s %s", ErrDuplicateKey, rec.table, rec.key)
	}
	if err := txn.Insert(tableRows, rec); err != nil {
		return fmt.Errorf("memstore: insert into %s: %w", rec.table, err)
	}
	return nil
}

func nextID(txn *memdb.Txn, table, col string) (int64, error) {
	recs, err := scan(txn, table)
	if err != nil {
		return 0, err
	}
	var high int64
	for _, r := range recs {
		if id, ok := predicate.Normalize(r.row[col]).(int64); ok && id > high {
			high = id
		}
	}
	return high + 1, nil
}

func rowKey(row orm.Row, pk []string) string {
	parts := make([]string, len(pk))
	for i, c := range pk {
		parts[i] = fmt.Sprint(predicate.Key(row[c]))
	}
	return strings.Join(parts, "|||")
}
