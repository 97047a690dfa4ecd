package orm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/relq/orm"
)

func friendNames(t *testing.T, row orm.Row) []string {
	t.Helper()
	list, ok := row["friends"].([]orm.Row)
	require.True(t, ok, "friends not attached: %v", row)
	names := make([]string, len(list))
	for i, f := range list {
		names[i] = f["name"].(string)
	}
	return names
}

func TestPostReconcilesThrough(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()
	users := store.Table("user").With("friends")

	_, err := users.Post(ctx, orm.Row{"id": 4, "name": "dieter", "friends": []orm.Row{klaus(), manfred()}})
	require.NoError(t, err)

	got, err := users.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"klaus", "manfred"}, friendNames(t, got))
}

func TestPostWithoutActivationIgnoresRelation(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()

	_, err := store.Table("user").Post(ctx, orm.Row{"id": 4, "name": "dieter", "friends": []orm.Row{klaus()}})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.total())

	got, err := store.Table("user").With("friends").Get(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, friendNames(t, got))
}

func TestLinkOrder(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		order []int
		want  []string
	}{
		{"ascending", []int{2, 3}, []string{"klaus", "manfred"}},
		{"descending", []int{3, 2}, []string{"manfred", "klaus"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, _ := newFixture(t, nil)
			ctx := t.Context()
			users := store.Table("user")

			from, err := users.Post(ctx, orm.Row{"id": 4, "name": "dieter"})
			require.NoError(t, err)
			for _, id := range tt.order {
				to, err := users.Get(ctx, id)
				require.NoError(t, err)
				require.NoError(t, users.Link(ctx, "friends", from, to))
			}

			got, err := users.With("friends").Get(ctx, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, friendNames(t, got))
		})
	}
}

func TestUnlink(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()
	users := store.Table("user")

	require.NoError(t, users.Unlink(ctx, "friends", heiner(), klaus()))
	assert.Equal(t, 1, rec.count(orm.OpDelete, "friend"))

	got, err := users.With("friends").Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, friendNames(t, got))

	// other parents keep their links
	got, err = users.With("friends").Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"manfred"}, friendNames(t, got))

	err = users.Link(ctx, "comments", heiner(), klaus())
	require.ErrorContains(t, err, "not hasManyThrough")
	err = users.Link(ctx, "bogus", heiner(), klaus())
	require.ErrorIs(t, err, orm.ErrUnknownRelation)
}

func TestPutReconcileMinimal(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, func(s *orm.Schema, user, _, _ *orm.TableDef) {
		// a second link table carrying an extra column
		follow := s.Table("follow", orm.PK("user1Id", "user2Id"), orm.Columns("note"))
		user.HasManyThrough(user, follow, orm.As("follows"), orm.ThroughKeys("user1Id", "user2Id"))
	})
	ctx := t.Context()
	users := store.Table("user").With("follows")

	_, err := store.Table("follow").PostAll(ctx, []orm.Row{
		{"user1Id": 1, "user2Id": 2, "note": "old"},
		{"user1Id": 1, "user2Id": 3, "note": "old"},
	})
	require.NoError(t, err)
	_, err = store.Table("user").Post(ctx, orm.Row{"id": 4, "name": "dieter"})
	require.NoError(t, err)
	rec.reset()

	// keep 2 with a new note, drop 3, add 4 twice
	_, err = users.Put(ctx, 1, orm.Row{"follows": []orm.Row{
		{"id": 2, "note": "new"},
		{"id": 4},
		{"id": 4},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count(orm.OpDelete, "follow"))
	assert.Equal(t, 1, rec.count(orm.OpCreate, "follow"))
	assert.Equal(t, 1, rec.count(orm.OpUpdate, "follow"))
	// the user row itself had nothing to update
	assert.Zero(t, rec.count(orm.OpUpdate, "user"))

	got, err := users.Get(ctx, 1)
	require.NoError(t, err)
	follows := got["follows"].([]orm.Row)
	require.Len(t, follows, 2)
	assert.Equal(t, "klaus", follows[0]["name"])
	assert.Equal(t, "new", follows[0]["note"])
	assert.Equal(t, "dieter", follows[1]["name"])
	assert.Nil(t, follows[1]["note"])
}

func TestPutReconcileNoop(t *testing.T) {
	t.Parallel()

	store, rec := newFixture(t, nil)
	ctx := t.Context()

	_, err := store.Table("user").With("friends").Put(ctx, 1, orm.Row{"name": "heinz", "friends": []orm.Row{klaus()}})
	require.NoError(t, err)

	// update user, re-read user and friends, no link writes
	assert.Equal(t, 1, rec.count(orm.OpUpdate, "user"))
	assert.Zero(t, rec.count(orm.OpCreate, "friend"))
	assert.Zero(t, rec.count(orm.OpDelete, "friend"))
	assert.Zero(t, rec.count(orm.OpUpdate, "friend"))

	got, err := store.Table("user").With("friends").Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "heinz", got["name"])
	assert.Equal(t, []string{"klaus"}, friendNames(t, got))
}

func TestPutReconcileClears(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	ctx := t.Context()
	users := store.Table("user").With("friends")

	_, err := users.Put(ctx, 2, orm.Row{"friends": []orm.Row{}})
	require.NoError(t, err)

	got, err := users.Get(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, friendNames(t, got))
}

func TestPutReconcileMissingParent(t *testing.T) {
	t.Parallel()

	store, _ := newFixture(t, nil)
	_, err := store.Table("user").With("friends").Put(t.Context(), 99, orm.Row{"name": "ghost", "friends": []orm.Row{klaus()}})
	require.ErrorIs(t, err, orm.ErrNotFound)
}

func heiner() orm.Row { return userRows[0].Clone() }
func klaus() orm.Row { return userRows[1].Clone() }
func manfred() orm.Row { return userRows[2].Clone() }
