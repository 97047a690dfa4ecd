package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mickamy/relq/orm"
)

// readFlags are the flags shared by the read commands.
type readFlags struct {
	where   []string
	like    []string
	orderBy []string
	with    []string
	columns []string
	limit   int
	offset  int
}

func (f *readFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, "filter as column=value; repeatable")
	cmd.Flags().StringArrayVar(&f.like, "like", nil, "substring filter as column=pattern; repeatable")
	cmd.Flags().StringArrayVarP(&f.orderBy, "order", "o", nil, `order as "column [ASC|DESC]"; repeatable`)
	cmd.Flags().StringSliceVar(&f.with, "with", nil, "relation paths to load, e.g. comments:author")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "columns to project")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of rows")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "number of rows to skip")
}

func (f *readFlags) apply(q *orm.Query) (*orm.Query, error) {
	where, err := parseAssignments(f.where)
	if err != nil {
		return nil, err
	}
	like, err := parseAssignments(f.like)
	if err != nil {
		return nil, err
	}
	if len(where) > 0 {
		q = q.Where(where)
	}
	if len(like) > 0 {
		q = q.WhereLike(like)
	}
	if len(f.orderBy) > 0 {
		q = q.OrderBy(f.orderBy)
	}
	if len(f.columns) > 0 {
		q = q.Columns(f.columns...)
	}
	return q.With(f.with...).Limit(f.limit).Offset(f.offset), nil
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var with []string
	cmd := &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print the row with the given primary key",
		Long: `Print the row with the given primary key. Composite keys are
written as comma separated values in key order.

Example:
  relq get user 1 --with comments:author
  relq get friend 1,2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q := e.store.Table(args[0]).With(with...)
				row, err := q.Get(ctx, parseID(q, args[1]))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), row)
			})
		},
	}
	cmd.Flags().StringSliceVar(&with, "with", nil, "relation paths to load")
	return cmd
}

func newAllCmd(opts *rootOptions) *cobra.Command {
	f := &readFlags{}
	cmd := &cobra.Command{
		Use:   "all <table>",
		Short: "Print every matching row",
		Long: `Print every matching row as a JSON array.

Example:
  relq all user --where age=27 --order "name DESC" --with friends`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q, err := f.apply(e.store.Table(args[0]))
				if err != nil {
					return err
				}
				rows, err := q.All(ctx)
				if err != nil {
					return err
				}
				if rows == nil {
					rows = []orm.Row{}
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	f := &readFlags{}
	var column string
	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Print the number of matching rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q, err := f.apply(e.store.Table(args[0]))
				if err != nil {
					return err
				}
				var cols []string
				if column != "" {
					cols = append(cols, column)
				}
				n, err := q.Count(ctx, cols...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"count": n})
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&column, "column", "", "count the non-null values of this column")
	return cmd
}

func newPostCmd(opts *rootOptions) *cobra.Command {
	var with []string
	cmd := &cobra.Command{
		Use:   "post <table> <row>...",
		Short: "Insert rows and print them with their primary keys",
		Long: `Insert rows written as YAML or JSON objects. Through relations named
with --with are linked to the rows listed under their key.

Example:
  relq post user '{name: dieter, friends: [{id: 2}]}' --with friends`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]orm.Row, 0, len(args)-1)
			for _, arg := range args[1:] {
				row, err := parseRow(arg)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				out, err := e.store.Table(args[0]).With(with...).PostAll(ctx, rows)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringSliceVar(&with, "with", nil, "through relations to reconcile")
	return cmd
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	var with []string
	cmd := &cobra.Command{
		Use:   "put <table> <id> <row>",
		Short: "Update the row with the given primary key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRow(args[2])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q := e.store.Table(args[0]).With(with...)
				out, err := q.Put(ctx, parseID(q, args[1]), row)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringSliceVar(&with, "with", nil, "through relations to reconcile")
	return cmd
}

func newDelCmd(opts *rootOptions) *cobra.Command {
	f := &readFlags{}
	var all bool
	cmd := &cobra.Command{
		Use:   "del <table> [id]",
		Short: "Delete the row with the given primary key, or every matching row with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 2) {
				return errors.New("pass either an id or --all")
			}
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q := e.store.Table(args[0])
				if !all {
					return q.Del(ctx, parseID(q, args[1]))
				}
				q, err := f.apply(q)
				if err != nil {
					return err
				}
				return q.DelAll(ctx)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "delete every row matching the filters")
	return cmd
}

func newLinkCmd(opts *rootOptions, link bool) *cobra.Command {
	use, short := "link", "Insert link rows of a through relation"
	if !link {
		use, short = "unlink", "Remove link rows of a through relation"
	}
	return &cobra.Command{
		Use:   use + " <table> <relation> <from-id> <to-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, e *env) error {
				q := e.store.Table(args[0])
				t, ok := q.Through(args[1])
				if !ok {
					return fmt.Errorf("%q is not a through relation of %s", args[1], args[0])
				}
				from, err := q.Get(ctx, parseID(q, args[2]))
				if err != nil {
					return fmt.Errorf("from row: %w", err)
				}
				target := t.Target()
				to := make([]orm.Row, 0, len(args)-3)
				for _, id := range args[3:] {
					row, err := e.store.Table(target.TableName()).Get(ctx, parseID(target, id))
					if err != nil {
						return fmt.Errorf("to row %s: %w", id, err)
					}
					to = append(to, row)
				}
				if link {
					return q.Link(ctx, args[1], from, to...)
				}
				return q.Unlink(ctx, args[1], from, to...)
			})
		},
	}
}

func newTablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the declared tables and their relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(_ context.Context, e *env) error {
				type relation struct {
					Key    string `json:"key"`
					Kind   string `json:"kind"`
					Target string `json:"target"`
				}
				type table struct {
					Name      string     `json:"name"`
					PK        []string   `json:"pk"`
					Relations []relation `json:"relations"`
				}
				var out []table
				for _, name := range e.store.Tables() {
					q := e.store.Table(name)
					tbl := table{Name: name, PK: q.PrimaryKey(), Relations: []relation{}}
					for _, key := range q.RelationKeys() {
						rel, _ := q.Relation(key)
						tbl.Relations = append(tbl.Relations, relation{Key: key, Kind: rel.Kind().String(), Target: rel.Target().TableName()})
					}
					out = append(out, tbl)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

// parseAssignments turns column=value pairs into a where map.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		col, val, ok := strings.Cut(p, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q, want column=value", p)
		}
		out[col] = parseValue(val)
	}
	return out, nil
}
