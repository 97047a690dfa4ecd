package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog"
)

// TransformFunc is a named post-load transform registered on a Store and
// invoked through Query.Transform.
type TransformFunc func(rows []Row, arg any) ([]Row, error)

// Option configures a Store.
type Option func(*Store)

// WithTransform registers fn under name for Query.Transform.
func WithTransform(name string, fn TransformFunc) Option {
	return func(s *Store) { s.transforms[name] = fn }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store hands out queries for the tables of a built Schema and executes
// them against an Adapter.
type Store struct {
	adapter    Adapter
	transforms map[string]TransformFunc
	logger     zerolog.Logger
	tables     map[string]*Query
}

func newStore(adapter Adapter, tables map[string]*Query, opts ...Option) *Store {
	s := &Store{
		adapter:    adapter,
		transforms: make(map[string]TransformFunc),
		logger:     zerolog.Nop(),
		tables:     tables,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Adapter returns the adapter queries of s execute against.
func (s *Store) Adapter() Adapter { return s.adapter }

// WithAdapter returns a copy of s executing against a. Useful to run a set
// of queries inside a transaction or against a fake.
func (s *Store) WithAdapter(a Adapter) *Store {
	s2 := *s
	s2.adapter = a
	return &s2
}

// Table returns the base query of a declared table.
func (s *Store) Table(name string) *Query {
	t, ok := s.tables[name]
	if !ok {
		return s.Query(name).fail(fmt.Errorf("%w %q", ErrUnknownTable, name))
	}
	return t.bind(s)
}

// Query returns a relation-less query against name with primary key ["id"].
func (s *Store) Query(name string) *Query {
	return &Query{
		store:      s,
		table:      name,
		pk:         []string{"id"},
		collection: true,
	}
}

// Tables lists the declared table names.
func (s *Store) Tables() []string {
	return slices.Sorted(maps.Keys(s.tables))
}

// log returns the context logger, falling back to the store's own.
func (s *Store) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
