package orm

import (
	"context"

	"github.com/mickamy/relq/internal/naming"
	"github.com/mickamy/relq/predicate"
)

// RelationKind identifies how a relation joins its target.
type RelationKind int

const (
	KindBelongsTo RelationKind = iota
	KindExtendWith
	KindHasOne
	KindHasMany
	KindHasManyThrough
)

func (k RelationKind) String() string {
	switch k {
	case KindBelongsTo:
		return "belongsTo"
	case KindExtendWith:
		return "extendWith"
	case KindHasOne:
		return "hasOne"
	case KindHasMany:
		return "hasMany"
	case KindHasManyThrough:
		return "hasManyThrough"
	}
	return "unknown"
}

// Relation is a declared rule for batch-fetching the rows associated with a
// list of parent rows.
type Relation interface {
	// Key is the field the related rows are attached under.
	Key() string
	Kind() RelationKind
	// Target is the query template for the related table.
	Target() *Query

	fetch(ctx context.Context, parent, target *Query, rows []Row) (*attachment, error)
}

// RelationOption configures a relation declaration.
type RelationOption func(*relationConfig)

type relationConfig struct {
	key        string
	fk         string
	localKey   string
	filter     func(Row) bool
	narrow     func(*Query) *Query
	fromFK     string
	toFK       string
	fromPK     string
	toPK       string
	includeFKs bool
}

// As sets the key the relation attaches under.
func As(key string) RelationOption {
	return func(c *relationConfig) { c.key = key }
}

// ForeignKey sets the foreign key column. For BelongsTo and ExtendWith it
// lives on the parent table, for HasOne and HasMany on the target.
func ForeignKey(col string) RelationOption {
	return func(c *relationConfig) { c.fk = col }
}

// LocalKey sets the column the foreign key refers to: the target column for
// BelongsTo and ExtendWith, the parent column for HasOne and HasMany.
// It defaults to the first primary key column of that side.
func LocalKey(col string) RelationOption {
	return func(c *relationConfig) { c.localKey = col }
}

// RowFilter restricts the parent rows taking part in the relation.
func RowFilter(keep func(Row) bool) RelationOption {
	return func(c *relationConfig) { c.filter = keep }
}

// Narrow derives the target template, e.g. to add a predicate or an order.
func Narrow(fn func(*Query) *Query) RelationOption {
	return func(c *relationConfig) { c.narrow = fn }
}

// ThroughKeys sets the link table columns referencing the parent and the
// target. They default to "<parentTable>Id" and "<targetTable>Id".
func ThroughKeys(fromFK, toFK string) RelationOption {
	return func(c *relationConfig) {
		c.fromFK = fromFK
		c.toFK = toFK
	}
}

// ThroughPKs sets the parent and target columns referenced by the link
// table. They default to the first primary key column of each side.
func ThroughPKs(fromPK, toPK string) RelationOption {
	return func(c *relationConfig) {
		c.fromPK = fromPK
		c.toPK = toPK
	}
}

// IncludeFKs keeps the link table's join columns on attached rows.
func IncludeFKs() RelationOption {
	return func(c *relationConfig) { c.includeFKs = true }
}

// attachment is the effect of one relation fetch on the parent rows,
// addressed by row index. It is applied after every sibling fetch is done.
type attachment struct {
	assign map[int]any
	merge  map[int]Row
	drop   []int
}

func newAttachment() *attachment {
	return &attachment{assign: make(map[int]any), merge: make(map[int]Row)}
}

// apply writes the attachment into rows under key and marks dropped rows.
func (a *attachment) apply(rows []Row, key string, dropped map[int]struct{}) {
	for i, v := range a.assign {
		rows[i][key] = v
	}
	for i, m := range a.merge {
		for k, v := range m {
			if _, ok := rows[i][k]; !ok {
				rows[i][k] = v
			}
		}
	}
	for _, i := range a.drop {
		dropped[i] = struct{}{}
	}
}

// relation implements BelongsTo, ExtendWith, HasOne and HasMany.
type relation struct {
	kind     RelationKind
	key      string
	target   *Query
	fk       string
	localKey string
	filter   func(Row) bool
}

func newRelation(kind RelationKind, target *Query, cfg relationConfig) *relation {
	r := &relation{
		kind:     kind,
		key:      cfg.key,
		target:   target,
		fk:       cfg.fk,
		localKey: cfg.localKey,
		filter:   cfg.filter,
	}
	if r.key == "" {
		r.key = target.TableName()
		if kind == KindHasMany {
			r.key = naming.Plural(target.TableName())
		}
	}
	return r
}

func (r *relation) Key() string        { return r.key }
func (r *relation) Kind() RelationKind { return r.kind }
func (r *relation) Target() *Query     { return r.target }

func (r *relation) fetch(ctx context.Context, parent, target *Query, rows []Row) (*attachment, error) {
	idx := participants(rows, r.filter)
	switch r.kind {
	case KindBelongsTo, KindExtendWith:
		return r.fetchOwner(ctx, parent, target, rows, idx)
	default:
		return r.fetchOwned(ctx, parent, target, rows, idx)
	}
}

// fetchOwner resolves relations where the parent row holds the foreign key.
// Rows whose foreign key is set but matches nothing are dropped; rows with
// no foreign key are left as they are.
func (r *relation) fetchOwner(ctx context.Context, parent, target *Query, rows []Row, idx []int) (*attachment, error) {
	fk := r.fk
	if fk == "" {
		fk = naming.ForeignKey(target.TableName())
	}
	ref := r.localKey
	if ref == "" {
		ref = target.pk[0]
	}
	att := newAttachment()
	keys := uniqueKeys(rows, idx, fk)
	if len(keys) == 0 {
		parent.store.log(ctx).Trace().Str("relation", r.key).Msg("no foreign keys, skipping lookup")
		return att, nil
	}

	found, err := lookup(ctx, target, ref, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[any]Row, len(found))
	for _, row := range found {
		k := predicate.Key(row[ref])
		if _, ok := byKey[k]; !ok {
			byKey[k] = row
		}
	}

	var matched, unmatched []int
	for _, i := range idx {
		v := rows[i][fk]
		if v == nil {
			continue
		}
		m, ok := byKey[predicate.Key(v)]
		if !ok {
			unmatched = append(unmatched, i)
			continue
		}
		matched = append(matched, i)
		if r.kind == KindExtendWith {
			att.merge[i] = m
		} else {
			att.assign[i] = m
		}
	}
	att.drop = unmatched
	parent.store.log(ctx).Trace().
		Str("relation", r.key).
		Int("keys", len(keys)).
		Int("matched", len(matched)).
		Int("dropped", len(unmatched)).
		Msg("resolved relation")
	return att, nil
}

// fetchOwned resolves relations where the target rows hold the foreign key.
func (r *relation) fetchOwned(ctx context.Context, parent, target *Query, rows []Row, idx []int) (*attachment, error) {
	fk := r.fk
	if fk == "" {
		fk = naming.ForeignKey(parent.TableName())
	}
	local := r.localKey
	if local == "" {
		local = parent.pk[0]
	}
	att := newAttachment()
	keys := uniqueKeys(rows, idx, local)

	var found []Row
	if len(keys) > 0 {
		var err error
		found, err = lookup(ctx, target, fk, keys)
		if err != nil {
			return nil, err
		}
	} else {
		parent.store.log(ctx).Trace().Str("relation", r.key).Msg("no local keys, skipping lookup")
	}

	groups := make(map[any][]Row)
	for _, row := range found {
		k := predicate.Key(row[fk])
		groups[k] = append(groups[k], row)
	}
	for _, i := range idx {
		group := groups[predicate.Key(rows[i][local])]
		if r.kind == KindHasOne {
			if len(group) > 0 {
				att.assign[i] = group[0]
			} else {
				att.assign[i] = nil
			}
			continue
		}
		list := make([]Row, len(group))
		copy(list, group)
		att.assign[i] = list
	}
	parent.store.log(ctx).Trace().
		Str("relation", r.key).
		Int("keys", len(keys)).
		Int("found", len(found)).
		Msg("resolved relation")
	return att, nil
}

// lookup loads the target rows whose col is one of keys. The column is added
// to a projected target so rows can be matched back.
func lookup(ctx context.Context, target *Query, col string, keys []any) ([]Row, error) {
	q := target.WherePredicate(predicate.New(predicate.Entry{Column: col, Cond: predicate.In{Values: keys}}))
	if len(q.columns) > 0 {
		q = q.addColumns(col)
	}
	return q.All(ctx)
}

// participants returns the indices of the rows accepted by keep.
func participants(rows []Row, keep func(Row) bool) []int {
	idx := make([]int, 0, len(rows))
	for i, row := range rows {
		if keep == nil || keep(row) {
			idx = append(idx, i)
		}
	}
	return idx
}
