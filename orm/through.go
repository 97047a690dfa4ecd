package orm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mickamy/relq/internal/naming"
	"github.com/mickamy/relq/predicate"
)

// Pair is a parent row and a target row joined by a link row.
type Pair struct {
	From Row
	To   Row
}

// Through is a HasManyThrough relation. Besides fetching, it writes the link
// table: Link and friends take the parent query so that default join column
// names resolve against the caller's table, the same way fetches do.
type Through struct {
	key        string
	target     *Query
	through    *Query
	fromFK     string
	toFK       string
	fromPK     string
	toPK       string
	includeFKs bool
	filter     func(Row) bool
}

func newThrough(target, through *Query, cfg relationConfig) *Through {
	t := &Through{
		key:        cfg.key,
		target:     target,
		through:    through,
		fromFK:     cfg.fromFK,
		toFK:       cfg.toFK,
		fromPK:     cfg.fromPK,
		toPK:       cfg.toPK,
		includeFKs: cfg.includeFKs,
		filter:     cfg.filter,
	}
	if t.key == "" {
		t.key = naming.Plural(target.TableName())
	}
	return t
}

func (t *Through) Key() string        { return t.key }
func (t *Through) Kind() RelationKind { return KindHasManyThrough }
func (t *Through) Target() *Query     { return t.target }

// ThroughTable returns the link table template.
func (t *Through) ThroughTable() *Query { return t.through }

// joinKeys are the four columns of a through relation resolved against the
// calling parent query.
type joinKeys struct {
	fromFK, toFK, fromPK, toPK string
}

func (t *Through) keys(parent *Query) joinKeys {
	k := joinKeys{fromFK: t.fromFK, toFK: t.toFK, fromPK: t.fromPK, toPK: t.toPK}
	if k.fromFK == "" {
		k.fromFK = naming.ForeignKey(parent.TableName())
	}
	if k.toFK == "" {
		k.toFK = naming.ForeignKey(t.target.TableName())
	}
	if k.fromPK == "" {
		k.fromPK = parent.pk[0]
	}
	if k.toPK == "" {
		k.toPK = t.target.pk[0]
	}
	return k
}

// fetch loads link rows for the parents, then the targets they point to.
// Each parent receives its targets in link order, extended with the link
// row's extra columns.
func (t *Through) fetch(ctx context.Context, parent, target *Query, rows []Row) (*attachment, error) {
	k := t.keys(parent)
	idx := participants(rows, t.filter)
	att := newAttachment()
	log := parent.store.log(ctx)

	keys := uniqueKeys(rows, idx, k.fromPK)
	var links []Row
	if len(keys) > 0 {
		var err error
		links, err = t.through.bind(parent.store).
			Without("*").
			addColumns(k.fromFK, k.toFK).
			WherePredicate(predicate.New(predicate.Entry{Column: k.fromFK, Cond: predicate.In{Values: keys}})).
			All(ctx)
		if err != nil {
			return nil, err
		}
	}

	byKey := make(map[any]Row)
	if len(links) > 0 {
		all := make([]int, len(links))
		for i := range all {
			all[i] = i
		}
		found, err := lookup(ctx, target, k.toPK, uniqueKeys(links, all, k.toFK))
		if err != nil {
			return nil, err
		}
		for _, row := range found {
			pk := predicate.Key(row[k.toPK])
			if _, ok := byKey[pk]; !ok {
				byKey[pk] = row
			}
		}
	} else {
		log.Trace().Str("relation", t.key).Msg("no link rows, skipping target lookup")
	}

	groups := make(map[any][]Row)
	for _, l := range links {
		from := predicate.Key(l[k.fromFK])
		groups[from] = append(groups[from], l)
	}
	for _, i := range idx {
		list := []Row{}
		for _, l := range groups[predicate.Key(rows[i][k.fromPK])] {
			to, ok := byKey[predicate.Key(l[k.toFK])]
			if !ok {
				continue
			}
			item := to.Clone()
			for col, v := range l {
				if !t.includeFKs && (col == k.fromFK || col == k.toFK) {
					continue
				}
				item[col] = v
			}
			list = append(list, item)
		}
		att.assign[i] = list
	}
	log.Trace().
		Str("relation", t.key).
		Int("keys", len(keys)).
		Int("links", len(links)).
		Int("targets", len(byKey)).
		Msg("resolved relation")
	return att, nil
}

// linkRow builds the link row for p: the join columns plus the extra columns
// of the link table found on p.To.
func (t *Through) linkRow(k joinKeys, p Pair) Row {
	row := p.To.Pick(t.extraColumns())
	row[k.fromFK] = p.From[k.fromPK]
	row[k.toFK] = p.To[k.toPK]
	return row
}

// extraColumns are the link table columns carried besides the join keys.
func (t *Through) extraColumns() []string {
	if t.through.hasWritable {
		return t.through.writable
	}
	return t.through.columns
}

func (t *Through) pairPredicate(k joinKeys, p Pair) predicate.Predicate {
	return predicate.New(
		predicate.Entry{Column: k.fromFK, Cond: predicate.Equals{Value: p.From[k.fromPK]}},
		predicate.Entry{Column: k.toFK, Cond: predicate.Equals{Value: p.To[k.toPK]}},
	)
}

// Link inserts a single link row.
func (t *Through) Link(ctx context.Context, parent *Query, from, to Row) error {
	return t.LinkAll(ctx, parent, []Pair{{From: from, To: to}})
}

// LinkAll inserts one link row per pair in a single create.
func (t *Through) LinkAll(ctx context.Context, parent *Query, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	k := t.keys(parent)
	data := make([]Row, len(pairs))
	for i, p := range pairs {
		data[i] = t.linkRow(k, p)
	}
	_, err := t.through.bind(parent.store).Without("*").create(ctx, data)
	return err
}

// Unlink deletes the link rows joining from and to.
func (t *Through) Unlink(ctx context.Context, parent *Query, from, to Row) error {
	return t.UnlinkAll(ctx, parent, []Pair{{From: from, To: to}})
}

// UnlinkAll deletes the link rows of pairs, with one delete per distinct
// parent.
func (t *Through) UnlinkAll(ctx context.Context, parent *Query, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	k := t.keys(parent)
	type batch struct {
		from any
		to   []any
	}
	var order []any
	batches := make(map[any]*batch)
	for _, p := range pairs {
		from := p.From[k.fromPK]
		fk := predicate.Key(from)
		b, ok := batches[fk]
		if !ok {
			b = &batch{from: from}
			batches[fk] = b
			order = append(order, fk)
		}
		b.to = append(b.to, p.To[k.toPK])
	}

	through := t.through.bind(parent.store).Without("*")
	g, gctx := errgroup.WithContext(ctx)
	for _, fk := range order {
		b := batches[fk]
		g.Go(func() error {
			return through.WherePredicate(predicate.New(
				predicate.Entry{Column: k.fromFK, Cond: predicate.Equals{Value: b.from}},
				predicate.Entry{Column: k.toFK, Cond: predicate.In{Values: b.to}},
			)).DelAll(gctx)
		})
	}
	return g.Wait() //nolint:wrapcheck // pass through
}

// Update writes the link table's extra columns found on to.
func (t *Through) Update(ctx context.Context, parent *Query, from, to Row) error {
	return t.UpdateAll(ctx, parent, []Pair{{From: from, To: to}})
}

// UpdateAll updates the link rows of pairs concurrently. Pairs carrying no
// link table column besides the join keys are skipped.
func (t *Through) UpdateAll(ctx context.Context, parent *Query, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	k := t.keys(parent)
	through := t.through.bind(parent.store).Without("*")
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		row := t.linkRow(k, p)
		if len(row) <= 2 {
			continue
		}
		g.Go(func() error {
			return through.WherePredicate(t.pairPredicate(k, p)).update(gctx, row)
		})
	}
	return g.Wait() //nolint:wrapcheck // pass through
}

// Link inserts link rows joining from to every row of to through the
// relation named key.
func (q *Query) Link(ctx context.Context, key string, from Row, to ...Row) error {
	t, err := q.through(key)
	if err != nil {
		return err
	}
	pairs := make([]Pair, len(to))
	for i, row := range to {
		pairs[i] = Pair{From: from, To: row}
	}
	return t.LinkAll(ctx, q, pairs)
}

// Unlink removes the link rows joining from to every row of to through the
// relation named key.
func (q *Query) Unlink(ctx context.Context, key string, from Row, to ...Row) error {
	t, err := q.through(key)
	if err != nil {
		return err
	}
	pairs := make([]Pair, len(to))
	for i, row := range to {
		pairs[i] = Pair{From: from, To: row}
	}
	return t.UnlinkAll(ctx, q, pairs)
}

// Through returns the HasManyThrough relation declared under key.
func (q *Query) Through(key string) (*Through, bool) {
	t, err := q.through(key)
	return t, err == nil
}

func (q *Query) through(key string) (*Through, error) {
	if q.err != nil {
		return nil, q.err
	}
	rel, ok := q.Relation(key)
	if !ok {
		return nil, &UnknownRelationError{Relation: key, Table: q.table, Known: q.RelationKeys()}
	}
	t, ok := rel.(*Through)
	if !ok {
		return nil, fmt.Errorf("orm: relation %q on table %q is %s, not hasManyThrough", key, q.table, rel.Kind())
	}
	return t, nil
}
