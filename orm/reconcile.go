package orm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// reconcile brings the link rows of every activated through relation
// present in data in line with the rows listed there. The parent's current
// links are re-read by identity, then the relation's UnlinkAll, LinkAll and
// UpdateAll run concurrently on the three partitions of the diff.
func (q *Query) reconcile(ctx context.Context, id any, data Row) error {
	var keys []string
	for _, key := range q.activation.Keys() {
		if _, ok := data[key]; !ok {
			continue
		}
		if rel, ok := q.Relation(key); ok && rel.Kind() == KindHasManyThrough {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	current := q.clone()
	current.activation = nil
	current.columns = nil
	current.transforms = nil
	current.orderBys = nil
	current.offset = 0
	parent, err := current.With(keys...).Get(ctx, id, OmitWhere())
	if err != nil {
		return fmt.Errorf("orm: read %s %v for reconciliation: %w", q.table, id, err)
	}

	desired := make(map[string][]Row, len(keys))
	for _, key := range keys {
		rows, err := asRows(data[key])
		if err != nil {
			return fmt.Errorf("orm: relation %q: %w", key, err)
		}
		desired[key] = rows
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		t, _ := q.through(key)
		existing, _ := parent[key].([]Row)
		diff := diffLinks(t.target.pk, parent, desired[key], existing)
		q.store.log(ctx).Debug().
			Str("table", q.table).
			Str("relation", key).
			Int("unlink", len(diff.unlink)).
			Int("link", len(diff.link)).
			Int("update", len(diff.update)).
			Msg("reconciling links")

		g.Go(func() error { return t.UnlinkAll(gctx, q, diff.unlink) })
		g.Go(func() error { return t.LinkAll(gctx, q, diff.link) })
		g.Go(func() error { return t.UpdateAll(gctx, q, diff.update) })
	}
	return g.Wait() //nolint:wrapcheck // pass through
}

type linkDiff struct {
	unlink []Pair
	link   []Pair
	update []Pair
}

// diffLinks partitions desired and existing target rows by their composite
// primary key. Duplicate desired rows are collapsed to the first occurrence.
func diffLinks(pk []string, parent Row, desired, existing []Row) linkDiff {
	want := make(map[string]struct{}, len(desired))
	var uniq []Row
	for _, row := range desired {
		k := compositeKey(row, pk)
		if _, ok := want[k]; ok {
			continue
		}
		want[k] = struct{}{}
		uniq = append(uniq, row)
	}
	have := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		have[compositeKey(row, pk)] = struct{}{}
	}

	var d linkDiff
	for _, row := range existing {
		if _, ok := want[compositeKey(row, pk)]; !ok {
			d.unlink = append(d.unlink, Pair{From: parent, To: row})
		}
	}
	for _, row := range uniq {
		if _, ok := have[compositeKey(row, pk)]; ok {
			d.update = append(d.update, Pair{From: parent, To: row})
		} else {
			d.link = append(d.link, Pair{From: parent, To: row})
		}
	}
	return d
}
