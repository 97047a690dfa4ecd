// Package predicate describes row filters as a small closed AST.
//
// A Predicate is a conjunction of per-column conditions. Merging two
// predicates overrides conditions by column and keeps every column the later
// predicate does not mention, so predicates can be accumulated across a chain
// of builder calls without losing earlier filters.
package predicate

import (
	"reflect"
	"slices"
	"sort"
	"strings"
)

// Cond is a condition on a single column.
// Only the types in this package implement Cond.
type Cond interface {
	// Matches reports whether a column value satisfies the condition.
	// present is false when the row has no such column.
	Matches(v any, present bool) bool
	cond()
}

// Equals matches values equal to Value after numeric normalisation.
type Equals struct{ Value any }

// IsNull matches absent columns and nil values.
type IsNull struct{}

// In matches values contained in Values.
type In struct{ Values []any }

// Empty matches nothing. It stands in for an In with no values.
type Empty struct{}

// Like matches values whose string form contains Pattern, ignoring case.
type Like struct{ Pattern string }

func (Equals) cond() {}
func (IsNull) cond() {}
func (In) cond()     {}
func (Empty) cond()  {}
func (Like) cond()   {}

func (c Equals) Matches(v any, present bool) bool {
	return present && v != nil && Equal(v, c.Value)
}

func (IsNull) Matches(v any, _ bool) bool { return v == nil }

func (c In) Matches(v any, present bool) bool {
	if !present || v == nil {
		return false
	}
	return slices.ContainsFunc(c.Values, func(x any) bool { return Equal(v, x) })
}

func (Empty) Matches(any, bool) bool { return false }

func (c Like) Matches(v any, present bool) bool {
	if !present || v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(toString(v)), strings.ToLower(c.Pattern))
}

// Pattern is shorthand for a Like condition, usable as a value in FromMap.
func Pattern(p string) Like { return Like{Pattern: p} }

// Func is a custom predicate: it receives the accumulated predicate and
// returns the one to use from then on.
type Func func(Predicate) Predicate

// Predicate is an immutable conjunction of column conditions.
// The zero value has no entries and matches every row.
type Predicate struct {
	cols  []string
	conds map[string]Cond
}

// New builds a predicate from column/condition pairs given in order.
func New(pairs ...Entry) Predicate {
	var p Predicate
	for _, e := range pairs {
		p = p.With(e.Column, e.Cond)
	}
	return p
}

// Entry is one column condition of a Predicate.
type Entry struct {
	Column string
	Cond   Cond
}

// With returns a predicate where column is constrained by c, replacing any
// previous condition on that column.
func (p Predicate) With(column string, c Cond) Predicate {
	p2 := p.clone()
	if _, ok := p2.conds[column]; !ok {
		p2.cols = append(p2.cols, column)
	}
	p2.conds[column] = c
	return p2
}

// Without returns a predicate with no condition on column.
func (p Predicate) Without(column string) Predicate {
	if _, ok := p.conds[column]; !ok {
		return p
	}
	p2 := p.clone()
	delete(p2.conds, column)
	p2.cols = slices.DeleteFunc(p2.cols, func(c string) bool { return c == column })
	return p2
}

// Merge overlays other onto p. Columns present in both take other's condition.
func (p Predicate) Merge(other Predicate) Predicate {
	if other.IsZero() {
		return p
	}
	p2 := p.clone()
	for _, col := range other.cols {
		if _, ok := p2.conds[col]; !ok {
			p2.cols = append(p2.cols, col)
		}
		p2.conds[col] = other.conds[col]
	}
	return p2
}

// Get returns the condition on column, if any.
func (p Predicate) Get(column string) (Cond, bool) {
	c, ok := p.conds[column]
	return c, ok
}

// Columns returns the constrained columns in first-insertion order.
func (p Predicate) Columns() []string { return slices.Clone(p.cols) }

// Entries returns the conditions in column order.
func (p Predicate) Entries() []Entry {
	out := make([]Entry, len(p.cols))
	for i, col := range p.cols {
		out[i] = Entry{Column: col, Cond: p.conds[col]}
	}
	return out
}

func (p Predicate) Len() int { return len(p.cols) }

// IsZero reports whether p has no entries.
func (p Predicate) IsZero() bool { return len(p.cols) == 0 }

// MatchesNothing reports whether some condition can never match.
// Adapters use it to skip a round trip.
func (p Predicate) MatchesNothing() bool {
	for _, c := range p.conds {
		if _, ok := c.(Empty); ok {
			return true
		}
	}
	return false
}

// Match evaluates p against a row.
func (p Predicate) Match(row map[string]any) bool {
	for _, col := range p.cols {
		v, ok := row[col]
		if !p.conds[col].Matches(v, ok) {
			return false
		}
	}
	return true
}

func (p Predicate) clone() Predicate {
	p2 := Predicate{
		cols:  slices.Clone(p.cols),
		conds: make(map[string]Cond, len(p.conds)+1),
	}
	for k, v := range p.conds {
		p2.conds[k] = v
	}
	return p2
}

// FromMap converts a column/value mapping into a Predicate.
//
//	nil              -> IsNull
//	slice or array   -> In (Empty when it has no elements)
//	Like / {"like"}  -> Like
//	Cond             -> used as is
//	anything else    -> Equals
//
// Column names are looked up in aliases first. With like set, plain string
// values become Like conditions. Keys are processed in sorted order.
func FromMap(values map[string]any, aliases map[string]string, like bool) Predicate {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var p Predicate
	for _, k := range keys {
		col := k
		if alias, ok := aliases[k]; ok && alias != "" {
			col = alias
		}
		p = p.With(col, condFor(values[k], like))
	}
	return p
}

func condFor(v any, like bool) Cond {
	switch x := v.(type) {
	case nil:
		return IsNull{}
	case Cond:
		return x
	case string:
		if like {
			return Like{Pattern: x}
		}
		return Equals{Value: x}
	case []byte:
		return Equals{Value: string(x)}
	case map[string]any:
		if pat, ok := x["like"]; ok {
			return Like{Pattern: toString(pat)}
		}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() == 0 {
			return Empty{}
		}
		vals := make([]any, rv.Len())
		for i := range vals {
			vals[i] = rv.Index(i).Interface()
		}
		return In{Values: vals}
	}
	return Equals{Value: v}
}
