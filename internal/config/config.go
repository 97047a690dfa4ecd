// Package config loads the YAML file describing the tables, relations and
// connection the relq CLI works with.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mickamy/relq/orm"
)

// DriverMemory selects the in-memory store instead of a SQL database.
const DriverMemory = "memory"

// Config is the root of a relq configuration file.
//
//	driver: sqlite3
//	dsn: file:app.db
//	tables:
//	  - name: user
//	    relations:
//	      - kind: hasMany
//	        target: comment
//	  - name: comment
type Config struct {
	Driver    string `yaml:"driver" default:"memory"`
	DSN       string `yaml:"dsn"`
	LogLevel  string `yaml:"logLevel" default:"info"`
	SnakeCase bool   `yaml:"snakeCase"`

	Tables []Table `yaml:"tables"`

	// Seed holds rows inserted into the memory store on startup, by table.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`
}

// Table declares one table.
type Table struct {
	Name       string            `yaml:"name"`
	PK         []string          `yaml:"pk" default:"[\"id\"]"`
	Columns    []string          `yaml:"columns,omitempty"`
	Writable   []string          `yaml:"writable,omitempty"`
	Aliases    map[string]string `yaml:"aliases,omitempty"`
	Timestamps *Timestamps       `yaml:"timestamps,omitempty"`
	Relations  []Relation        `yaml:"relations,omitempty"`
}

// Timestamps names the columns stamped on writes.
type Timestamps struct {
	Created string `yaml:"created" default:"createdAt"`
	Updated string `yaml:"updated" default:"updatedAt"`
}

// Relation declares a relation from the enclosing table to Target.
type Relation struct {
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target"`
	Through    string `yaml:"through,omitempty"`
	As         string `yaml:"as,omitempty"`
	ForeignKey string `yaml:"foreignKey,omitempty"`
	LocalKey   string `yaml:"localKey,omitempty"`
	FromFK     string `yaml:"fromFK,omitempty"`
	ToFK       string `yaml:"toFK,omitempty"`
	FromPK     string `yaml:"fromPK,omitempty"`
	ToPK       string `yaml:"toPK,omitempty"`
	IncludeFKs bool   `yaml:"includeFKs,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration, rejecting unknown fields, and fills in
// defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	for i := range cfg.Tables {
		if err := defaults.Set(&cfg.Tables[i]); err != nil {
			return nil, fmt.Errorf("failed to apply defaults: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks table names and relation kinds. Relation targets are
// checked by Schema, when the schema is built.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("table %q is declared twice", t.Name))
		}
		seen[t.Name] = true
		for j, r := range t.Relations {
			if _, ok := relationKinds[r.Kind]; !ok {
				errs = append(errs, fmt.Errorf("table %q: relations[%d]: unknown kind %q", t.Name, j, r.Kind))
			}
			if r.Kind == "hasManyThrough" && r.Through == "" {
				errs = append(errs, fmt.Errorf("table %q: relations[%d]: hasManyThrough needs through", t.Name, j))
			}
		}
	}
	if c.Driver != DriverMemory && len(c.Seed) > 0 {
		errs = append(errs, errors.New("seed is only supported by the memory driver"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logLevel: %w", err))
	}
	return errors.Join(errs...)
}

var relationKinds = map[string]orm.RelationKind{
	"belongsTo":      orm.KindBelongsTo,
	"extendWith":     orm.KindExtendWith,
	"hasOne":         orm.KindHasOne,
	"hasMany":        orm.KindHasMany,
	"hasManyThrough": orm.KindHasManyThrough,
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Schema declares every configured table and relation on a new schema.
func (c *Config) Schema() (*orm.Schema, error) {
	s := orm.NewSchema()
	defs := make(map[string]*orm.TableDef, len(c.Tables))
	for _, t := range c.Tables {
		opts := []orm.TableOption{orm.PK(t.PK...)}
		if len(t.Columns) > 0 {
			opts = append(opts, orm.Columns(t.Columns...))
		}
		if len(t.Writable) > 0 {
			opts = append(opts, orm.Writable(t.Writable...))
		}
		if len(t.Aliases) > 0 {
			opts = append(opts, orm.Aliases(t.Aliases))
		}
		if ts := t.Timestamps; ts != nil {
			opts = append(opts, orm.Timestamps(ts.Created, ts.Updated))
		}
		defs[t.Name] = s.Table(t.Name, opts...)
	}

	for _, t := range c.Tables {
		from := defs[t.Name]
		for _, r := range t.Relations {
			target, ok := defs[r.Target]
			if !ok {
				return nil, fmt.Errorf("table %q: relation target %q is not declared", t.Name, r.Target)
			}
			opts := r.options()
			switch relationKinds[r.Kind] {
			case orm.KindBelongsTo:
				from.BelongsTo(target, opts...)
			case orm.KindExtendWith:
				from.ExtendWith(target, opts...)
			case orm.KindHasOne:
				from.HasOne(target, opts...)
			case orm.KindHasMany:
				from.HasMany(target, opts...)
			case orm.KindHasManyThrough:
				through, ok := defs[r.Through]
				if !ok {
					return nil, fmt.Errorf("table %q: through table %q is not declared", t.Name, r.Through)
				}
				from.HasManyThrough(target, through, opts...)
			}
		}
	}
	return s, nil
}

func (r Relation) options() []orm.RelationOption {
	var opts []orm.RelationOption
	if r.As != "" {
		opts = append(opts, orm.As(r.As))
	}
	if r.ForeignKey != "" {
		opts = append(opts, orm.ForeignKey(r.ForeignKey))
	}
	if r.LocalKey != "" {
		opts = append(opts, orm.LocalKey(r.LocalKey))
	}
	if r.FromFK != "" || r.ToFK != "" {
		opts = append(opts, orm.ThroughKeys(r.FromFK, r.ToFK))
	}
	if r.FromPK != "" || r.ToPK != "" {
		opts = append(opts, orm.ThroughPKs(r.FromPK, r.ToPK))
	}
	if r.IncludeFKs {
		opts = append(opts, orm.IncludeFKs())
	}
	return opts
}
