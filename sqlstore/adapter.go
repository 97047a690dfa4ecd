package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/mickamy/relq/internal/naming"
	"github.com/mickamy/relq/orm"
	"github.com/mickamy/relq/predicate"
)

// ErrNoGeneratedKey is returned when an insert needs a generated primary key
// the dialect cannot report, e.g. a composite key on MySQL.
var ErrNoGeneratedKey = errors.New("sqlstore: cannot read generated key")

// Option configures an Adapter.
type Option func(*Adapter)

// WithSnakeCase maps camelCase row fields to snake_case columns and back.
func WithSnakeCase() Option {
	return func(a *Adapter) {
		a.column = naming.CamelToSnake
		a.field = naming.SnakeToCamel
	}
}

// Adapter executes orm queries as SQL statements.
type Adapter struct {
	db     Querier
	column func(string) string
	field  func(string) string
}

var _ orm.Adapter = (*Adapter)(nil)

// NewAdapter returns an Adapter running statements on db, which is either a
// *DB or a *Tx.
func NewAdapter(db Querier, opts ...Option) *Adapter {
	a := &Adapter{db: db, column: identity, field: identity}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithQuerier returns a copy of a running statements on db, typically a *Tx.
func (a *Adapter) WithQuerier(db Querier) *Adapter {
	a2 := *a
	a2.db = db
	return &a2
}

func identity(s string) string { return s }

func (a *Adapter) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(a.db.dialect().PlaceholderFormat())
}

func (a *Adapter) quote(field string) string {
	return a.db.dialect().QuoteIdent(a.column(field))
}

func (a *Adapter) qualified(table, field string) string {
	d := a.db.dialect()
	return d.QuoteIdent(table) + "." + d.QuoteIdent(a.column(field))
}

// where translates p into a squirrel condition. The zero predicate yields nil.
func (a *Adapter) where(p predicate.Predicate) sq.Sqlizer {
	if p.IsZero() {
		return nil
	}
	d := a.db.dialect()
	and := make(sq.And, 0, p.Len())
	for _, e := range p.Entries() {
		col := a.quote(e.Column)
		switch c := e.Cond.(type) {
		case predicate.Equals:
			if c.Value == nil {
				and = append(and, sq.Expr(col+" IS NULL"))
				continue
			}
			and = append(and, sq.Expr(col+" = ?", bindValue(c.Value)))
		case predicate.IsNull:
			and = append(and, sq.Expr(col+" IS NULL"))
		case predicate.In:
			if len(c.Values) == 0 {
				and = append(and, sq.Expr("1 = 0"))
				continue
			}
			vals := make([]any, len(c.Values))
			for i, v := range c.Values {
				vals[i] = bindValue(v)
			}
			and = append(and, sq.Eq{col: vals})
		case predicate.Empty:
			and = append(and, sq.Expr("1 = 0"))
		case predicate.Like:
			and = append(and, d.Like(col, c.Pattern))
		}
	}
	return and
}

// bindValue keeps []byte values from being expanded into lists.
func bindValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (a *Adapter) selectBuilder(q *orm.Query) sq.SelectBuilder {
	d := a.db.dialect()
	table := q.TableName()
	cols := q.ProjectedColumns()
	var sel []string
	if len(cols) == 0 {
		sel = []string{d.QuoteIdent(table) + ".*"}
	} else {
		sel = make([]string, len(cols))
		for i, c := range cols {
			sel[i] = a.qualified(table, c)
		}
	}

	sb := a.builder().Select(sel...).From(d.QuoteIdent(table))
	if w := a.where(q.Predicate()); w != nil {
		sb = sb.Where(w)
	}
	for _, o := range q.OrderBys() {
		sb = sb.OrderBy(a.quote(o.Column) + " " + string(o.Direction))
	}
	limit, offset := q.LimitValue(), q.OffsetValue()
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	} else if offset > 0 {
		// MySQL and SQLite reject OFFSET without LIMIT.
		sb = sb.Limit(math.MaxInt64)
	}
	if offset > 0 {
		sb = sb.Offset(uint64(offset))
	}
	return sb
}

// Get runs a SELECT for q.
func (a *Adapter) Get(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	query, args, err := a.selectBuilder(q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build select on %s: %w", q.TableName(), err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	return scanRows(rows, a.field)
}

// Count counts the values of the requested column, or the distinct primary
// keys when no column is requested.
func (a *Adapter) Count(ctx context.Context, q *orm.Query) (int64, error) {
	d := a.db.dialect()
	table := q.TableName()
	var sb sq.SelectBuilder
	if req := q.CountRequest(); req != nil && req.Column != "" {
		sb = a.builder().Select("COUNT(" + a.quote(req.Column) + ")").From(d.QuoteIdent(table))
		if w := a.where(q.Predicate()); w != nil {
			sb = sb.Where(w)
		}
	} else {
		pk := q.PrimaryKey()
		cols := make([]string, len(pk))
		for i, c := range pk {
			cols[i] = a.qualified(table, c)
		}
		inner := sq.Select(cols...).Distinct().From(d.QuoteIdent(table))
		if w := a.where(q.Predicate()); w != nil {
			inner = inner.Where(w)
		}
		sb = a.builder().Select("COUNT(*)").FromSelect(inner, "counted")
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: build count on %s: %w", table, err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err //nolint:wrapcheck // pass through
		}
	}
	return n, rows.Err() //nolint:wrapcheck // pass through
}

// Post inserts the payload rows. Rows that carry their whole primary key and
// share one column set go in a single statement; the others are inserted one
// by one so their generated keys can be read back.
func (a *Adapter) Post(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	payload := q.Payload()
	pk := q.PrimaryKey()
	out := make([]orm.Row, len(payload))

	if batchable(payload, pk) {
		if err := a.insert(ctx, q.TableName(), payload); err != nil {
			return nil, err
		}
		for i, row := range payload {
			out[i] = row.Pick(pk)
		}
		return out, nil
	}

	for i, row := range payload {
		created, err := a.insertReturning(ctx, q.TableName(), pk, row)
		if err != nil {
			return nil, err
		}
		out[i] = created
	}
	return out, nil
}

func batchable(rows []orm.Row, pk []string) bool {
	var cols []string
	for i, row := range rows {
		for _, c := range pk {
			if row[c] == nil {
				return false
			}
		}
		keys := sortedKeys(row)
		if i == 0 {
			cols = keys
		} else if !slices.Equal(cols, keys) {
			return false
		}
	}
	return true
}

func (a *Adapter) insert(ctx context.Context, table string, rows []orm.Row) error {
	fields := sortedKeys(rows[0])
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = a.quote(f)
	}
	ib := a.builder().Insert(a.db.dialect().QuoteIdent(table)).Columns(cols...)
	for _, row := range rows {
		vals := make([]any, len(fields))
		for i, f := range fields {
			vals[i] = row[f]
		}
		ib = ib.Values(vals...)
	}
	query, args, err := ib.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build insert on %s: %w", table, err)
	}
	_, err = a.db.ExecContext(ctx, query, args...)
	return err //nolint:wrapcheck // pass through
}

// insertStatement builds a single row INSERT followed by suffix. A row with
// no fields inserts column defaults.
func (a *Adapter) insertStatement(table string, row orm.Row, suffix string) (string, []any, error) {
	d := a.db.dialect()
	fields := sortedKeys(row)
	if len(fields) == 0 {
		return "INSERT INTO " + d.QuoteIdent(table) + " " + d.EmptyValues() + suffix, nil, nil
	}
	cols := make([]string, len(fields))
	vals := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = a.quote(f)
		vals[i] = row[f]
	}
	ib := a.builder().Insert(d.QuoteIdent(table)).Columns(cols...).Values(vals...)
	if suffix != "" {
		ib = ib.Suffix(strings.TrimSpace(suffix))
	}
	query, args, err := ib.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("sqlstore: build insert on %s: %w", table, err)
	}
	return query, args, nil
}

func (a *Adapter) insertReturning(ctx context.Context, table string, pk []string, row orm.Row) (orm.Row, error) {
	d := a.db.dialect()
	if d.UseReturning() {
		mapped := make([]string, len(pk))
		for i, c := range pk {
			mapped[i] = a.column(c)
		}
		query, args, err := a.insertStatement(table, row, d.ReturningClause(mapped...))
		if err != nil {
			return nil, err
		}
		rows, err := a.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		created, err := scanRows(rows, a.field)
		if err != nil {
			return nil, err
		}
		if len(created) == 0 {
			return nil, fmt.Errorf("%w: %s returned no row", ErrNoGeneratedKey, table)
		}
		return created[0], nil
	}

	query, args, err := a.insertStatement(table, row, "")
	if err != nil {
		return nil, err
	}
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	out := row.Pick(pk)
	var missing []string
	for _, c := range pk {
		if out[c] == nil {
			missing = append(missing, c)
		}
	}
	switch len(missing) {
	case 0:
		return out, nil
	case 1:
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		out[missing[0]] = id
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s is missing %v", ErrNoGeneratedKey, table, missing)
}

// Put runs an UPDATE setting the single payload row on the matching rows.
func (a *Adapter) Put(ctx context.Context, q *orm.Query) error {
	payload := q.Payload()
	if len(payload) == 0 || len(payload[0]) == 0 {
		return nil
	}
	set := make(map[string]any, len(payload[0]))
	for f, v := range payload[0] {
		set[a.quote(f)] = v
	}
	ub := a.builder().Update(a.db.dialect().QuoteIdent(q.TableName())).SetMap(set)
	if w := a.where(q.Predicate()); w != nil {
		ub = ub.Where(w)
	}
	query, args, err := ub.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build update on %s: %w", q.TableName(), err)
	}
	_, err = a.db.ExecContext(ctx, query, args...)
	return err //nolint:wrapcheck // pass through
}

// Del runs a DELETE of the matching rows.
func (a *Adapter) Del(ctx context.Context, q *orm.Query) error {
	db := a.builder().Delete(a.db.dialect().QuoteIdent(q.TableName()))
	if w := a.where(q.Predicate()); w != nil {
		db = db.Where(w)
	}
	query, args, err := db.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build delete on %s: %w", q.TableName(), err)
	}
	_, err = a.db.ExecContext(ctx, query, args...)
	return err //nolint:wrapcheck // pass through
}

// scanRows reads every row into an orm.Row keyed by field(column).
// []byte values are returned as strings.
func scanRows(rows *sql.Rows, field func(string) string) ([]orm.Row, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = field(c)
	}

	var out []orm.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		row := make(orm.Row, len(cols))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[names[i]] = v
		}
		out = append(out, row)
	}
	return out, rows.Err() //nolint:wrapcheck // pass through
}

func sortedKeys(row orm.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
