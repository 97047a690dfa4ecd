package orm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/relq/orm"
	"github.com/mickamy/relq/predicate"
	"github.com/mickamy/relq/scope"
)

func TestBuilderImmutability(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	base := store.Table("user")
	filtered := base.Where(map[string]any{"age": 27}).OrderBy("name DESC").Limit(5).Offset(1).Columns("name").With("comments")

	assert.True(t, base.Predicate().IsZero())
	assert.Empty(t, base.OrderBys())
	assert.Zero(t, base.LimitValue())
	assert.Zero(t, base.OffsetValue())
	assert.Empty(t, base.ProjectedColumns())
	assert.Empty(t, base.Activation())

	assert.Equal(t, []string{"age"}, filtered.Predicate().Columns())
	assert.Equal(t, []orm.Order{{Column: "name", Direction: orm.Desc}}, filtered.OrderBys())
	assert.Equal(t, 5, filtered.LimitValue())
	assert.Equal(t, 1, filtered.OffsetValue())
	assert.Equal(t, []string{"name"}, filtered.ProjectedColumns())
	assert.True(t, filtered.Activation().Has("comments"))

	// siblings derived from the same query do not see each other
	a := filtered.Columns("age")
	b := filtered.Columns("id")
	assert.Equal(t, []string{"name", "age"}, a.ProjectedColumns())
	assert.Equal(t, []string{"name", "id"}, b.ProjectedColumns())
}

func TestWhereMerges(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	q := store.Table("user").
		Where(map[string]any{"age": 27, "name": "heiner"}).
		Where(map[string]any{"name": "klaus"})

	c, ok := q.Predicate().Get("name")
	require.True(t, ok)
	assert.Equal(t, predicate.Equals{Value: "klaus"}, c)
	_, ok = q.Predicate().Get("age")
	assert.True(t, ok)

	row, err := q.One(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 2, row["id"])
}

func TestWhereAliases(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	row, err := store.Table("user").
		Aliases(map[string]string{"years": "age"}).
		First(t.Context(), map[string]any{"years": 30})
	require.NoError(t, err)
	assert.Equal(t, "manfred", row["name"])
}

func TestWhereFunc(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	rows, err := store.Table("user").
		Where(map[string]any{"age": 20, "name": "klaus"}).
		WhereFunc(func(p predicate.Predicate) predicate.Predicate { return p.Without("age") }).
		All(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "klaus", rows[0]["name"])
}

func TestEmptyInSkipsAdapter(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()
	q := store.Table("user").Scopes(scope.In("id", []int{}))

	rows, err := q.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, q.PutAll(ctx, orm.Row{"name": "nobody"}))
	require.NoError(t, q.DelAll(ctx))

	_, err = q.One(ctx)
	require.ErrorIs(t, err, orm.ErrNotFound)
	assert.Zero(t, rec.total())
}

func TestGetCompositeKey(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()
	friend := store.Table("friend")

	byID, err := friend.Get(ctx, []any{2, 3})
	require.NoError(t, err)
	byWhere, err := friend.Where(map[string]any{"user1Id": 2, "user2Id": 3}).One(ctx)
	require.NoError(t, err)
	assert.Equal(t, byWhere, byID)

	_, err = friend.Get(ctx, 2)
	require.ErrorIs(t, err, orm.ErrInvalidKey)
}

func TestGetMergesPredicate(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()
	q := store.Table("user").Where(map[string]any{"age": 99})

	_, err := q.Get(ctx, 1)
	require.ErrorIs(t, err, orm.ErrNotFound)

	row, err := q.Get(ctx, 1, orm.OmitWhere())
	require.NoError(t, err)
	assert.Equal(t, "heiner", row["name"])
}

func TestGetIgnoresPagination(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()

	row, err := store.Table("user").Offset(2).Limit(5).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "heiner", row["name"])
	assert.Equal(t, call{op: orm.OpRead, table: "user", limit: 1}, rec.last())
}

func TestOneLimitsRead(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()

	row, err := store.Table("user").OrderBy("age DESC").One(ctx)
	require.NoError(t, err)
	assert.Equal(t, "manfred", row["name"])
	assert.Equal(t, 1, rec.last().limit)

	row, err = store.Table("user").OrderBy("age").Limit(2).Offset(1).One(ctx)
	require.NoError(t, err)
	assert.Equal(t, "klaus", row["name"])
	assert.Equal(t, call{op: orm.OpRead, table: "user", limit: 2, offset: 1}, rec.last())
}

func TestOrderBy(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()

	rows, err := store.Table("comment").OrderBy([]string{"userId DESC", "text"}).All(ctx)
	require.NoError(t, err)
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r["text"].(string)
	}
	assert.Equal(t, []string{"nice", "awesome", "gorgeous", "splended"}, texts)

	_, err = store.Table("comment").OrderBy(42).All(ctx)
	require.ErrorIs(t, err, orm.ErrUnsupportedOrderSpec)
}

func TestCount(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()

	n, err := store.Table("comment").Where(map[string]any{"userId": 2}).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.Table("user").Count(ctx, "name")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 2, rec.total())
}

func TestTransforms(t *testing.T) {
	t.Parallel()

	upper := func(rows []orm.Row, arg any) ([]orm.Row, error) {
		col := arg.(string)
		for _, r := range rows {
			r[col] = strings.ToUpper(r[col].(string))
		}
		return rows, nil
	}
	store, _ := newFixture(t, nil, orm.WithTransform("upper", upper))
	ctx := t.Context()

	rows, err := store.Table("user").
		Filter(func(r orm.Row) bool { return r["age"].(int) > 20 }).
		Map(func(r orm.Row) orm.Row { return orm.Row{"name": r["name"]} }).
		Transform("upper", "name").
		SortBy(func(a, b orm.Row) int { return strings.Compare(b["name"].(string), a["name"].(string)) }).
		All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []orm.Row{{"name": "MANFRED"}, {"name": "KLAUS"}}, rows)

	_, err = store.Table("user").Transform("missing", nil).All(ctx)
	require.ErrorIs(t, err, orm.ErrUnknownTransform)
}

func TestTransformError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	store, _ := newFixture(t, nil, orm.WithTransform("fail", func([]orm.Row, any) ([]orm.Row, error) {
		return nil, errBoom
	}))

	_, err := store.Table("user").Transform("fail", nil).All(t.Context())
	require.ErrorIs(t, err, errBoom)
}

func TestWriteProjection(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()
	q := store.Table("user").WritableColumns("name")

	row, err := q.Post(ctx, orm.Row{"id": 7, "name": "otto", "age": 99, "comments": []orm.Row{}})
	require.NoError(t, err)
	assert.EqualValues(t, 7, row["id"])

	got, err := store.Table("user").Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, orm.Row{"id": 7, "name": "otto"}, got)

	_, err = q.Put(ctx, 7, orm.Row{"name": "otto2", "age": 1})
	require.NoError(t, err)
	got, err = store.Table("user").Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, orm.Row{"id": 7, "name": "otto2"}, got)
}

func TestMissingPayload(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()
	users := store.Table("user")

	_, err := users.Post(ctx, nil)
	require.ErrorIs(t, err, orm.ErrMissingPayload)
	_, err = users.PostAll(ctx, []orm.Row{{"name": "a"}, {}})
	require.ErrorIs(t, err, orm.ErrMissingPayload)
	_, err = users.Put(ctx, 1, orm.Row{})
	require.ErrorIs(t, err, orm.ErrMissingPayload)
	require.ErrorIs(t, users.PutAll(ctx, nil), orm.ErrMissingPayload)
	assert.Zero(t, rec.total())
}

func TestDel(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()

	require.NoError(t, store.Table("comment").Del(ctx, 4))
	_, err := store.Table("comment").Get(ctx, 4)
	require.ErrorIs(t, err, orm.ErrNotFound)

	n, err := store.Table("comment").Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestUnknownTable(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)

	_, err := store.Table("nope").All(t.Context())
	require.ErrorIs(t, err, orm.ErrUnknownTable)
	assert.Zero(t, rec.total())
	assert.Equal(t, []string{"comment", "friend", "user"}, store.Tables())
}

func TestAdHocQuery(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	rows, err := store.Query("comment").Where(map[string]any{"userId": 1}).All(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "splended", rows[0]["text"])
}

func TestPaginateScope(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	rows, err := store.Table("comment").OrderBy("id").Scopes(scope.Paginate(2, 3)...).All(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 5, rows[0]["id"])
}
