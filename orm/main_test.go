package orm_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mickamy/relq/memstore"
	"github.com/mickamy/relq/orm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// call is one adapter invocation seen by recorder.
type call struct {
	op     orm.Op
	table  string
	rows   int
	limit  int
	offset int
}

// recorder wraps an adapter and records every call made through it.
type recorder struct {
	orm.Adapter

	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(op orm.Op, q *orm.Query) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{
		op:     op,
		table:  q.TableName(),
		rows:   len(q.Payload()),
		limit:  q.LimitValue(),
		offset: q.OffsetValue(),
	})
}

func (r *recorder) Get(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	r.record(orm.OpRead, q)
	return r.Adapter.Get(ctx, q)
}

func (r *recorder) Count(ctx context.Context, q *orm.Query) (int64, error) {
	r.record(orm.OpRead, q)
	return r.Adapter.Count(ctx, q)
}

func (r *recorder) Post(ctx context.Context, q *orm.Query) ([]orm.Row, error) {
	r.record(orm.OpCreate, q)
	return r.Adapter.Post(ctx, q)
}

func (r *recorder) Put(ctx context.Context, q *orm.Query) error {
	r.record(orm.OpUpdate, q)
	return r.Adapter.Put(ctx, q)
}

func (r *recorder) Del(ctx context.Context, q *orm.Query) error {
	r.record(orm.OpDelete, q)
	return r.Adapter.Del(ctx, q)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// count returns how many calls of op hit table.
func (r *recorder) count(op orm.Op, table string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.op == op && c.table == table {
			n++
		}
	}
	return n
}

// last returns the most recent call.
func (r *recorder) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var (
	userRows = []orm.Row{
		{"id": 1, "name": "heiner", "age": 20},
		{"id": 2, "name": "klaus", "age": 27},
		{"id": 3, "name": "manfred", "age": 30},
	}
	friendRows = []orm.Row{
		{"user1Id": 1, "user2Id": 2},
		{"user1Id": 2, "user2Id": 3},
	}
	commentRows = []orm.Row{
		{"id": 1, "userId": 2, "text": "gorgeous"},
		{"id": 2, "userId": 3, "text": "nice"},
		{"id": 4, "userId": 1, "text": "splended"},
		{"id": 5, "userId": 2, "text": "awesome"},
	}
)

func cloneRows(rows []orm.Row) []orm.Row {
	out := make([]orm.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// newFixture builds the user/comment/friend schema over a seeded memstore.
// extend may declare further tables or relations before Build.
func newFixture(t *testing.T, extend func(s *orm.Schema, user, comment, friend *orm.TableDef), opts ...orm.Option) (*orm.Store, *recorder) {
	t.Helper()

	mem, err := memstore.New()
	require.NoError(t, err)
	rec := &recorder{Adapter: mem}

	s := orm.NewSchema()
	user := s.Table("user")
	comment := s.Table("comment")
	friend := s.Table("friend", orm.PK("user1Id", "user2Id"))
	user.HasManyThrough(user, friend, orm.As("friends"), orm.ThroughKeys("user1Id", "user2Id"))
	user.HasMany(comment)
	comment.BelongsTo(user)
	comment.BelongsTo(user, orm.As("author"))
	if extend != nil {
		extend(s, user, comment, friend)
	}

	store, err := s.Build(rec, opts...)
	require.NoError(t, err)

	ctx := t.Context()
	for table, rows := range map[string][]orm.Row{"user": userRows, "comment": commentRows, "friend": friendRows} {
		_, err := store.Table(table).PostAll(ctx, cloneRows(rows))
		require.NoError(t, err)
	}
	rec.reset()
	return store, rec
}
