package orm

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"
)

// resolve attaches every relation activated on q to rows and returns the
// rows that survive, in their original order. Top-level relations are
// fetched concurrently; nested activations are resolved by each relation's
// own target query once its rows are loaded.
func (q *Query) resolve(ctx context.Context, rows []Row) ([]Row, error) {
	if len(rows) == 0 || len(q.activation) == 0 {
		return rows, nil
	}
	keys := q.activation.Keys()
	q.store.log(ctx).Trace().Str("table", q.table).Strs("relations", keys).Int("rows", len(rows)).Msg("resolving relations")

	rels := make([]Relation, len(keys))
	for i, key := range keys {
		rel, ok := q.Relation(key)
		if !ok {
			return nil, &UnknownRelationError{Relation: key, Table: q.table, Known: q.RelationKeys()}
		}
		rels[i] = rel
	}

	atts := make([]*attachment, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range rels {
		target := rel.Target().bind(q.store)
		if sub := q.activation[keys[i]]; len(sub) > 0 {
			target = target.WithTree(sub)
		}
		g.Go(func() error {
			att, err := rel.fetch(gctx, q, target, rows)
			if err != nil {
				return err
			}
			atts[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}

	dropped := make(map[int]struct{})
	for i, att := range atts {
		att.apply(rows, keys[i], dropped)
	}
	if len(dropped) == 0 {
		return rows, nil
	}
	out := make([]Row, 0, len(rows)-len(dropped))
	for i, row := range rows {
		if _, ok := dropped[i]; !ok {
			out = append(out, row)
		}
	}
	return slices.Clip(out), nil
}
