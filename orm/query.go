package orm

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mickamy/relq/predicate"
	"github.com/mickamy/relq/scope"
)

// Op is the kind of storage operation a Query describes.
type Op int

const (
	OpRead Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Order is one ORDER BY entry.
type Order struct {
	Column    string
	Direction Direction
}

// CountRequest asks an adapter for a row count instead of rows.
// An empty Column counts distinct primary keys.
type CountRequest struct {
	Column string
}

// Transform post-processes the rows of a read, after relations are attached.
type Transform func(rows []Row) ([]Row, error)

// Query represents a pending operation against a single table.
// All builder methods return a new Query; the receiver is never modified.
// The relation registry is the one exception: it is a snapshot shared by
// every query derived from the same table and is never written after Build.
type Query struct {
	store     *Store
	relations *registry

	table       string
	pk          []string
	pred        predicate.Predicate
	columns     []string
	writable    []string
	hasWritable bool
	aliases     map[string]string
	timestamps  timestamps

	orderBys []Order
	limit    int
	offset   int

	op         Op
	collection bool
	payload    []Row
	count      *CountRequest

	activation Activation
	transforms []Transform

	err error
}

// clone returns a shallow copy with slices and maps copied to avoid aliasing.
func (q *Query) clone() *Query {
	q2 := *q
	q2.pk = slices.Clone(q.pk)
	q2.columns = slices.Clone(q.columns)
	q2.writable = slices.Clone(q.writable)
	q2.aliases = maps.Clone(q.aliases)
	q2.orderBys = slices.Clone(q.orderBys)
	q2.payload = slices.Clone(q.payload)
	q2.activation = q.activation.clone()
	q2.transforms = slices.Clone(q.transforms)
	if q.count != nil {
		c := *q.count
		q2.count = &c
	}
	return &q2
}

// fail records err to be returned by the next terminal operation.
func (q *Query) fail(err error) *Query {
	q2 := q.clone()
	if q2.err == nil {
		q2.err = err
	}
	return q2
}

// --- Accessors ---

func (q *Query) TableName() string                { return q.table }
func (q *Query) PrimaryKey() []string             { return slices.Clone(q.pk) }
func (q *Query) Predicate() predicate.Predicate   { return q.pred }
func (q *Query) ProjectedColumns() []string       { return slices.Clone(q.columns) }
func (q *Query) OrderBys() []Order                { return slices.Clone(q.orderBys) }
func (q *Query) LimitValue() int                  { return q.limit }
func (q *Query) OffsetValue() int                 { return q.offset }
func (q *Query) Op() Op                           { return q.op }
func (q *Query) ReturnsCollection() bool          { return q.collection }
func (q *Query) Payload() []Row                   { return q.payload }
func (q *Query) CountRequest() *CountRequest      { return q.count }
func (q *Query) Activation() Activation           { return q.activation.clone() }
func (q *Query) ColumnAliases() map[string]string { return maps.Clone(q.aliases) }

// Writable returns the writable column override and whether one is set.
func (q *Query) Writable() ([]string, bool) {
	return slices.Clone(q.writable), q.hasWritable
}

// Err returns the error recorded by a builder method, if any.
func (q *Query) Err() error { return q.err }

// RelationKeys lists the relations declared on this query's table.
func (q *Query) RelationKeys() []string {
	if q.relations == nil {
		return nil
	}
	return slices.Clone(q.relations.keys)
}

// Relation returns the relation declared under key.
func (q *Query) Relation(key string) (Relation, bool) {
	if q.relations == nil {
		return nil, false
	}
	rel, ok := q.relations.byKey[key]
	return rel, ok
}

// --- Builder methods ---

// Table returns a query against another table name, keeping everything else.
func (q *Query) Table(name string) *Query {
	q2 := q.clone()
	q2.table = name
	return q2
}

// PK replaces the primary key columns.
func (q *Query) PK(cols ...string) *Query {
	if len(cols) == 0 {
		return q.fail(fmt.Errorf("%w: empty primary key", ErrInvalidKey))
	}
	q2 := q.clone()
	q2.pk = slices.Clone(cols)
	return q2
}

// Columns appends to the projected columns. No columns means all columns.
func (q *Query) Columns(cols ...string) *Query {
	q2 := q.clone()
	q2.columns = append(q2.columns, cols...)
	return q2
}

// WritableColumns appends to the columns a write may persist, overriding the
// projected columns for writes.
func (q *Query) WritableColumns(cols ...string) *Query {
	q2 := q.clone()
	q2.writable = append(q2.writable, cols...)
	q2.hasWritable = true
	return q2
}

// Aliases adds column aliases consulted by Where and WhereLike.
func (q *Query) Aliases(aliases map[string]string) *Query {
	q2 := q.clone()
	if q2.aliases == nil {
		q2.aliases = make(map[string]string, len(aliases))
	}
	maps.Copy(q2.aliases, aliases)
	return q2
}

// Where merges a column/value mapping onto the accumulated predicate.
// See predicate.FromMap for how values are interpreted.
func (q *Query) Where(values map[string]any) *Query {
	return q.WherePredicate(predicate.FromMap(values, q.aliases, false))
}

// WhereLike is Where with every string value treated as a pattern.
func (q *Query) WhereLike(values map[string]any) *Query {
	return q.WherePredicate(predicate.FromMap(values, q.aliases, true))
}

// WherePredicate merges p onto the accumulated predicate.
func (q *Query) WherePredicate(p predicate.Predicate) *Query {
	q2 := q.clone()
	q2.pred = q2.pred.Merge(p)
	return q2
}

// WhereFunc replaces the accumulated predicate with fn applied to it.
func (q *Query) WhereFunc(fn predicate.Func) *Query {
	q2 := q.clone()
	q2.pred = fn(q2.pred)
	return q2
}

// With activates relation paths such as "comments" or "comments:author".
func (q *Query) With(paths ...string) *Query {
	q2 := q.clone()
	if q2.activation == nil {
		q2.activation = Activation{}
	}
	for _, p := range paths {
		q2.activation.activate(p)
	}
	return q2
}

// WithTree activates every path of tree.
func (q *Query) WithTree(tree Activation) *Query {
	q2 := q.clone()
	if q2.activation == nil {
		q2.activation = Activation{}
	}
	q2.activation.merge(tree)
	return q2
}

// Without deactivates relation paths. "*" deactivates everything; a nested
// path removes only that subtree.
func (q *Query) Without(paths ...string) *Query {
	q2 := q.clone()
	for _, p := range paths {
		if p == "*" {
			q2.activation = nil
			continue
		}
		if q2.activation != nil {
			q2.activation.deactivate(p)
		}
	}
	return q2
}

// OrderBy replaces the ordering. spec is "column [ASC|DESC]" or a list of
// such strings; anything else makes the next terminal call fail with
// ErrUnsupportedOrderSpec.
func (q *Query) OrderBy(spec any) *Query {
	orders, err := parseOrderBy(spec)
	if err != nil {
		return q.fail(err)
	}
	q2 := q.clone()
	q2.orderBys = orders
	return q2
}

// Limit caps the number of rows. Zero means unbounded.
func (q *Query) Limit(n int) *Query {
	q2 := q.clone()
	q2.limit = n
	return q2
}

func (q *Query) Offset(n int) *Query {
	q2 := q.clone()
	q2.offset = n
	return q2
}

// Scopes applies the given scope.Scope values to the query.
func (q *Query) Scopes(scopes ...scope.Scope) *Query {
	q2 := q.clone()
	for _, s := range scopes {
		s.Apply(q2)
	}
	return q2
}

// --- scope.Applier implementation ---

func (q *Query) ApplyWhere(p predicate.Predicate) { q.pred = q.pred.Merge(p) }

func (q *Query) ApplyOrderBy(column, dir string) {
	q.orderBys = append(q.orderBys, Order{Column: column, Direction: direction(dir)})
}

func (q *Query) ApplyLimit(n int)            { q.limit = n }
func (q *Query) ApplyOffset(n int)           { q.offset = n }
func (q *Query) ApplyColumns(cols []string)  { q.columns = append(q.columns, cols...) }
func (q *Query) ApplyWith(paths []string)    { *q = *q.With(paths...) }
func (q *Query) ApplyWithout(paths []string) { *q = *q.Without(paths...) }

var _ scope.Applier = (*Query)(nil)

// --- Transforms ---

// Filter keeps the rows for which keep returns true.
func (q *Query) Filter(keep func(Row) bool) *Query {
	return q.addTransform(func(rows []Row) ([]Row, error) {
		return slices.DeleteFunc(slices.Clone(rows), func(r Row) bool { return !keep(r) }), nil
	})
}

// Map replaces every row with fn(row).
func (q *Query) Map(fn func(Row) Row) *Query {
	return q.addTransform(func(rows []Row) ([]Row, error) {
		out := make([]Row, len(rows))
		for i, r := range rows {
			out[i] = fn(r)
		}
		return out, nil
	})
}

// SortBy orders the rows with cmp, keeping the relative order of equal rows.
func (q *Query) SortBy(cmp func(a, b Row) int) *Query {
	return q.addTransform(func(rows []Row) ([]Row, error) {
		out := slices.Clone(rows)
		slices.SortStableFunc(out, cmp)
		return out, nil
	})
}

// Transform appends the transform registered on the Store under name.
func (q *Query) Transform(name string, arg any) *Query {
	var fn TransformFunc
	if q.store != nil {
		fn = q.store.transforms[name]
	}
	if fn == nil {
		return q.fail(fmt.Errorf("%w %q", ErrUnknownTransform, name))
	}
	return q.addTransform(func(rows []Row) ([]Row, error) { return fn(rows, arg) })
}

func (q *Query) addTransform(t Transform) *Query {
	q2 := q.clone()
	q2.transforms = append(q2.transforms, t)
	return q2
}

// --- internal derivations ---

// bind returns q executing against s.
func (q *Query) bind(s *Store) *Query {
	if q.store == s {
		return q
	}
	q2 := q.clone()
	q2.store = s
	return q2
}

// addColumns appends the columns q does not project yet.
func (q *Query) addColumns(cols ...string) *Query {
	q2 := q.clone()
	for _, c := range cols {
		if !slices.Contains(q2.columns, c) {
			q2.columns = append(q2.columns, c)
		}
	}
	return q2
}

// whereID builds the identity predicate for id.
func (q *Query) whereID(id any) (predicate.Predicate, error) {
	vals, err := keyValues(q.pk, id)
	if err != nil {
		return predicate.Predicate{}, err
	}
	var p predicate.Predicate
	for i, col := range q.pk {
		p = p.With(col, predicate.Equals{Value: vals[i]})
	}
	return p, nil
}

// project restricts a write payload to primaryKey ∪ (writable ?? projected)
// and strips relation keys. Without either column list every non-relation
// field is kept.
func (q *Query) project(data Row) Row {
	cols := q.columns
	if q.hasWritable {
		cols = q.writable
	}
	var out Row
	if len(cols) == 0 && !q.hasWritable {
		out = data.Clone()
	} else {
		out = data.Pick(append(slices.Clone(q.pk), cols...))
	}
	if q.relations != nil {
		for _, k := range q.relations.keys {
			delete(out, k)
		}
	}
	return out
}

func parseOrderBy(spec any) ([]Order, error) {
	switch s := spec.(type) {
	case string:
		return parseOrderBy([]string{s})
	case []string:
		orders := make([]Order, 0, len(s))
		for _, entry := range s {
			fields := strings.Fields(entry)
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: empty column", ErrUnsupportedOrderSpec)
			}
			dir := ""
			if len(fields) > 1 {
				dir = fields[1]
			}
			orders = append(orders, Order{Column: fields[0], Direction: direction(dir)})
		}
		return orders, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedOrderSpec, spec)
}

func direction(dir string) Direction {
	if strings.EqualFold(dir, string(Desc)) {
		return Desc
	}
	return Asc
}
