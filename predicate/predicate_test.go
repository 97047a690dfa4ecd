package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/relq/predicate"
)

func TestMergeOverridesByKey(t *testing.T) {
	t.Parallel()

	a := predicate.FromMap(map[string]any{"a": 1}, nil, false)
	b := predicate.FromMap(map[string]any{"b": 2}, nil, false)
	c := predicate.FromMap(map[string]any{"a": 2}, nil, false)

	ab := a.Merge(b)
	require.Equal(t, []string{"a", "b"}, ab.Columns())
	require.True(t, ab.Match(map[string]any{"a": 1, "b": 2}))
	require.False(t, ab.Match(map[string]any{"a": 1, "b": 3}))

	ac := a.Merge(c)
	require.Equal(t, []string{"a"}, ac.Columns())
	require.True(t, ac.Match(map[string]any{"a": 2}))
	require.False(t, ac.Match(map[string]any{"a": 1}))

	// receivers are untouched
	require.Equal(t, []string{"a"}, a.Columns())
	require.True(t, a.Match(map[string]any{"a": 1}))
}

func TestFromMapShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		like  bool
		want  predicate.Cond
	}{
		{"nil", nil, false, predicate.IsNull{}},
		{"scalar", 3, false, predicate.Equals{Value: 3}},
		{"string", "bob", false, predicate.Equals{Value: "bob"}},
		{"string like", "bob", true, predicate.Like{Pattern: "bob"}},
		{"int slice", []int{1, 2}, false, predicate.In{Values: []any{1, 2}}},
		{"empty slice", []string{}, false, predicate.Empty{}},
		{"like value", predicate.Pattern("ob"), false, predicate.Like{Pattern: "ob"}},
		{"like object", map[string]any{"like": "ob"}, false, predicate.Like{Pattern: "ob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := predicate.FromMap(map[string]any{"col": tt.value}, nil, tt.like)
			got, ok := p.Get("col")
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFromMapAliases(t *testing.T) {
	t.Parallel()

	p := predicate.FromMap(map[string]any{"name": "x"}, map[string]string{"name": "full_name"}, false)
	require.Equal(t, []string{"full_name"}, p.Columns())
}

func TestMatch(t *testing.T) {
	t.Parallel()

	row := map[string]any{"id": int64(2), "name": "Klaus", "deleted": nil}

	tests := []struct {
		name string
		p    predicate.Predicate
		want bool
	}{
		{"zero matches all", predicate.Predicate{}, true},
		{"equals normalises ints", predicate.New(predicate.Entry{Column: "id", Cond: predicate.Equals{Value: 2}}), true},
		{"in", predicate.New(predicate.Entry{Column: "id", Cond: predicate.In{Values: []any{1, 2}}}), true},
		{"in miss", predicate.New(predicate.Entry{Column: "id", Cond: predicate.In{Values: []any{3}}}), false},
		{"empty", predicate.New(predicate.Entry{Column: "id", Cond: predicate.Empty{}}), false},
		{"null value", predicate.New(predicate.Entry{Column: "deleted", Cond: predicate.IsNull{}}), true},
		{"null absent", predicate.New(predicate.Entry{Column: "missing", Cond: predicate.IsNull{}}), true},
		{"like ignores case", predicate.New(predicate.Entry{Column: "name", Cond: predicate.Like{Pattern: "LAU"}}), true},
		{"like miss", predicate.New(predicate.Entry{Column: "name", Cond: predicate.Like{Pattern: "x"}}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.p.Match(row))
		})
	}
}

func TestWithoutAndMatchesNothing(t *testing.T) {
	t.Parallel()

	p := predicate.FromMap(map[string]any{"a": []int{}, "b": 1}, nil, false)
	require.True(t, p.MatchesNothing())

	p2 := p.Without("a")
	require.False(t, p2.MatchesNothing())
	require.Equal(t, []string{"b"}, p2.Columns())
	require.True(t, p.MatchesNothing())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(3), predicate.Normalize(int32(3)))
	require.Equal(t, int64(3), predicate.Normalize(3.0))
	require.InDelta(t, 3.5, predicate.Normalize(3.5), 0)
	require.Equal(t, "x", predicate.Normalize([]byte("x")))
	require.True(t, predicate.Equal(uint8(7), int64(7)))
	require.False(t, predicate.Equal("1", 1))
}
