package orm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Schema collects table declarations and their relations. Once Build has
// been called the schema is frozen: every table's relation registry becomes
// an immutable snapshot shared by all queries against that table.
type Schema struct {
	tables map[string]*TableDef
	order  []string
	frozen bool
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{tables: make(map[string]*TableDef)}
}

// TableOption configures a TableDef.
type TableOption func(*TableDef)

// PK sets the primary key columns. The default is ["id"].
func PK(cols ...string) TableOption {
	return func(t *TableDef) { t.pk = slices.Clone(cols) }
}

// Columns sets the columns projected by default on reads.
func Columns(cols ...string) TableOption {
	return func(t *TableDef) { t.columns = append(t.columns, cols...) }
}

// Writable sets the columns a write may persist.
func Writable(cols ...string) TableOption {
	return func(t *TableDef) {
		t.writable = append(t.writable, cols...)
		t.hasWritable = true
	}
}

// Aliases sets the column alias table consulted by Where.
func Aliases(aliases map[string]string) TableOption {
	return func(t *TableDef) {
		if t.aliases == nil {
			t.aliases = make(map[string]string, len(aliases))
		}
		maps.Copy(t.aliases, aliases)
	}
}

// Timestamps names the columns stamped with the current time on writes:
// created on insert, updated on insert and update. Pass "" to skip one.
func Timestamps(created, updated string) TableOption {
	return func(t *TableDef) { t.timestamps = timestamps{created: created, updated: updated} }
}

// TableDef declares a table and the relations hanging off it.
type TableDef struct {
	schema *Schema

	name        string
	pk          []string
	columns     []string
	writable    []string
	hasWritable bool
	aliases     map[string]string
	timestamps  timestamps

	relations []*relationDecl
}

// Table declares the table name, or returns the existing declaration with
// opts applied on top.
func (s *Schema) Table(name string, opts ...TableOption) *TableDef {
	s.mustBeOpen("declare table " + name)
	t, ok := s.tables[name]
	if !ok {
		t = &TableDef{schema: s, name: name, pk: []string{"id"}}
		s.tables[name] = t
		s.order = append(s.order, name)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (s *Schema) mustBeOpen(what string) {
	if s.frozen {
		panic(fmt.Errorf("%w: cannot %s", ErrSchemaFrozen, what))
	}
}

// Name returns the declared table name.
func (t *TableDef) Name() string { return t.name }

// BelongsTo declares that rows of t hold a foreign key to target.
func (t *TableDef) BelongsTo(target *TableDef, opts ...RelationOption) *TableDef {
	return t.declare(KindBelongsTo, target, nil, opts)
}

// ExtendWith is BelongsTo, but the target row's fields are merged into the
// parent row instead of being attached under a key.
func (t *TableDef) ExtendWith(target *TableDef, opts ...RelationOption) *TableDef {
	return t.declare(KindExtendWith, target, nil, opts)
}

// HasOne declares that a single target row holds a foreign key to t.
func (t *TableDef) HasOne(target *TableDef, opts ...RelationOption) *TableDef {
	return t.declare(KindHasOne, target, nil, opts)
}

// HasMany declares that target rows hold a foreign key to t.
func (t *TableDef) HasMany(target *TableDef, opts ...RelationOption) *TableDef {
	return t.declare(KindHasMany, target, nil, opts)
}

// HasManyThrough declares a many-to-many relation to target realised by
// link rows in through.
func (t *TableDef) HasManyThrough(target, through *TableDef, opts ...RelationOption) *TableDef {
	return t.declare(KindHasManyThrough, target, through, opts)
}

func (t *TableDef) declare(kind RelationKind, target, through *TableDef, opts []RelationOption) *TableDef {
	t.schema.mustBeOpen(fmt.Sprintf("declare %s relation on %s", kind, t.name))
	cfg := relationConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	t.relations = append(t.relations, &relationDecl{kind: kind, target: target, through: through, cfg: cfg})
	return t
}

// relationDecl is a relation as declared, before Build resolves its target.
type relationDecl struct {
	kind    RelationKind
	target  *TableDef
	through *TableDef
	cfg     relationConfig
}

// registry is the frozen set of relations of one table.
type registry struct {
	byKey map[string]Relation
	keys  []string
}

// template returns the base query of t, sharing reg.
func (t *TableDef) template(reg *registry) *Query {
	return &Query{
		relations:   reg,
		table:       t.name,
		pk:          slices.Clone(t.pk),
		columns:     slices.Clone(t.columns),
		writable:    slices.Clone(t.writable),
		hasWritable: t.hasWritable,
		aliases:     maps.Clone(t.aliases),
		timestamps:  t.timestamps,
		collection:  true,
	}
}

// Build validates the schema, freezes it and returns a Store executing
// against adapter. Declaring tables or relations afterwards panics.
func (s *Schema) Build(adapter Adapter, opts ...Option) (*Store, error) {
	s.mustBeOpen("build twice")

	var errs []error
	regs := make(map[string]*registry, len(s.tables))
	templates := make(map[string]*Query, len(s.tables))
	for _, name := range s.order {
		t := s.tables[name]
		if len(t.pk) == 0 {
			errs = append(errs, fmt.Errorf("%w: table %q has an empty primary key", ErrInvalidKey, name))
		}
		regs[name] = &registry{byKey: make(map[string]Relation)}
		templates[name] = t.template(regs[name])
	}

	for _, name := range s.order {
		t := s.tables[name]
		reg := regs[name]
		for _, decl := range t.relations {
			rel, err := s.resolve(decl, templates)
			if err != nil {
				errs = append(errs, fmt.Errorf("table %q: %w", name, err))
				continue
			}
			if _, dup := reg.byKey[rel.Key()]; dup {
				errs = append(errs, fmt.Errorf("table %q: duplicate relation key %q", name, rel.Key()))
				continue
			}
			reg.byKey[rel.Key()] = rel
			reg.keys = append(reg.keys, rel.Key())
		}
		slices.Sort(reg.keys)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s.frozen = true
	return newStore(adapter, templates, opts...), nil
}

func (s *Schema) resolve(decl *relationDecl, templates map[string]*Query) (Relation, error) {
	target, err := s.lookup(decl.target, templates)
	if err != nil {
		return nil, err
	}
	if decl.cfg.narrow != nil {
		target = decl.cfg.narrow(target)
	}
	if decl.kind == KindHasManyThrough {
		through, err := s.lookup(decl.through, templates)
		if err != nil {
			return nil, err
		}
		return newThrough(target, through, decl.cfg), nil
	}
	return newRelation(decl.kind, target, decl.cfg), nil
}

func (s *Schema) lookup(t *TableDef, templates map[string]*Query) (*Query, error) {
	if t == nil || t.schema != s {
		return nil, errors.New("relation target is not declared on this schema")
	}
	return templates[t.name], nil
}
