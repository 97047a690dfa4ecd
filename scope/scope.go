package scope

import (
	"strings"

	"github.com/mickamy/relq/predicate"
)

// Applier is implemented by query builders to receive scope fragments.
// This interface lives in the scope package so that orm can import scope
// without creating circular dependencies.
type Applier interface {
	ApplyWhere(p predicate.Predicate)
	ApplyOrderBy(column, dir string)
	ApplyLimit(n int)
	ApplyOffset(n int)
	ApplyColumns(cols []string)
	ApplyWith(paths []string)
	ApplyWithout(paths []string)
}

type scopeKind int

const (
	kindWhere scopeKind = iota
	kindOrderBy
	kindLimit
	kindOffset
	kindColumns
	kindWith
	kindWithout
)

// Scope represents a single query fragment.
// Scopes are immutable and safe to reuse across queries.
type Scope struct {
	kind    scopeKind
	pred    predicate.Predicate
	column  string
	dir     string
	n       int
	strings []string
}

// Apply dispatches this Scope to the given Applier.
func (s Scope) Apply(a Applier) {
	switch s.kind {
	case kindWhere:
		a.ApplyWhere(s.pred)
	case kindOrderBy:
		a.ApplyOrderBy(s.column, s.dir)
	case kindLimit:
		a.ApplyLimit(s.n)
	case kindOffset:
		a.ApplyOffset(s.n)
	case kindColumns:
		a.ApplyColumns(append([]string(nil), s.strings...))
	case kindWith:
		a.ApplyWith(append([]string(nil), s.strings...))
	case kindWithout:
		a.ApplyWithout(append([]string(nil), s.strings...))
	}
}

// Where returns a Scope that merges a column/value mapping onto the
// predicate. Column aliases of the query are not consulted.
//
//	scope.Where(map[string]any{"age": 27, "deletedAt": nil})
func Where(values map[string]any) Scope {
	return Scope{kind: kindWhere, pred: predicate.FromMap(values, nil, false)}
}

// Predicate returns a Scope that merges p onto the predicate.
func Predicate(p predicate.Predicate) Scope {
	return Scope{kind: kindWhere, pred: p}
}

// OrderBy returns a Scope that appends an ORDER BY entry.
//
//	scope.OrderBy("created_at DESC")
func OrderBy(clause string) Scope {
	fields := strings.Fields(clause)
	s := Scope{kind: kindOrderBy}
	if len(fields) > 0 {
		s.column = fields[0]
	}
	if len(fields) > 1 {
		s.dir = fields[1]
	}
	return s
}

// Limit returns a Scope that sets the LIMIT.
func Limit(n int) Scope {
	return Scope{kind: kindLimit, n: n}
}

// Offset returns a Scope that sets the OFFSET.
func Offset(n int) Scope {
	return Scope{kind: kindOffset, n: n}
}

// Columns returns a Scope that appends to the projected columns.
//
//	scope.Columns("id", "name")
func Columns(columns ...string) Scope {
	return Scope{kind: kindColumns, strings: columns}
}

// With returns a Scope that activates relation paths.
func With(paths ...string) Scope {
	return Scope{kind: kindWith, strings: paths}
}

// Without returns a Scope that deactivates relation paths.
func Without(paths ...string) Scope {
	return Scope{kind: kindWithout, strings: paths}
}

// In returns a WHERE scope with a membership condition. No reflection is
// used; generics handle the type conversion. An empty slice matches nothing.
//
//	scope.In("id", []int{1, 2, 3})
func In[T any](column string, values []T) Scope {
	if len(values) == 0 {
		return Predicate(predicate.New(predicate.Entry{Column: column, Cond: predicate.Empty{}}))
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return Predicate(predicate.New(predicate.Entry{Column: column, Cond: predicate.In{Values: args}}))
}

// Like returns a WHERE scope matching values containing pattern.
func Like(column, pattern string) Scope {
	return Predicate(predicate.New(predicate.Entry{Column: column, Cond: predicate.Like{Pattern: pattern}}))
}

// Paginate returns the Limit and Offset scopes for a 1-based page.
func Paginate(page, perPage int) Scopes {
	if page < 1 {
		page = 1
	}
	return Combine(Limit(perPage), Offset((page-1)*perPage))
}

// Scopes is a named slice of Scope, useful for conditionally building
// up a set of scopes.
//
//	var s scope.Scopes
//	if onlyActive {
//	    s = s.Append(Active)
//	}
//	s = s.Append(scope.Paginate(page, perPage)...)
//	store.Table("user").Scopes(s...).All(ctx)
type Scopes []Scope

// Append adds scopes and returns a new Scopes. The receiver is not modified.
func (ss Scopes) Append(scopes ...Scope) Scopes {
	return append(append(Scopes(nil), ss...), scopes...)
}

// Merge concatenates two Scopes and returns a new Scopes.
// Neither receiver nor argument is modified.
func (ss Scopes) Merge(other Scopes) Scopes {
	return append(append(Scopes(nil), ss...), other...)
}

// Combine creates a Scopes from the given scopes.
//
//	scope.Combine(scope.Limit(10), scope.Offset(20))
func Combine(scopes ...Scope) Scopes {
	return Scopes(scopes)
}
