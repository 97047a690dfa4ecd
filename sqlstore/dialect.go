package sqlstore

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect abstracts SQL differences between database engines.
type Dialect interface {
	// Name returns the dialect name used in logs and errors.
	Name() string

	// PlaceholderFormat returns the squirrel placeholder format: "?" for
	// MySQL and SQLite, "$1", "$2", etc. for PostgreSQL.
	PlaceholderFormat() sq.PlaceholderFormat

	// QuoteIdent quotes an identifier (table name, column name) to safely
	// handle SQL reserved words. MySQL uses backticks; PostgreSQL and
	// SQLite use double quotes.
	QuoteIdent(name string) string

	// UseReturning reports whether INSERT should use a RETURNING clause
	// to retrieve the auto-generated primary key (PostgreSQL, SQLite)
	// rather than relying on LastInsertId (MySQL).
	UseReturning() bool

	// ReturningClause returns the RETURNING clause appended to INSERT
	// statements. Returns an empty string for dialects that do not
	// support RETURNING (MySQL).
	ReturningClause(pk ...string) string

	// EmptyValues returns what follows the table name in an INSERT that
	// sets no column, so every column takes its default.
	EmptyValues() string

	// Like returns a case-insensitive containment match of pattern against
	// the already quoted column.
	Like(column, pattern string) sq.Sqlizer
}

// MySQL is the Dialect for MySQL / MariaDB.
var MySQL Dialect = mysqlDialect{}

// PostgreSQL is the Dialect for PostgreSQL.
var PostgreSQL Dialect = postgresDialect{}

// SQLite is the Dialect for SQLite 3.35 or later.
var SQLite Dialect = sqliteDialect{}

// DialectFor returns the Dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "pgx", "postgres", "postgresql":
		return PostgreSQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return nil, fmt.Errorf("sqlstore: no dialect for driver %q", driver)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                            { return "mysql" }
func (mysqlDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }
func (mysqlDialect) QuoteIdent(name string) string           { return "`" + name + "`" }
func (mysqlDialect) UseReturning() bool                      { return false }
func (mysqlDialect) ReturningClause(_ ...string) string      { return "" }
func (mysqlDialect) EmptyValues() string                     { return "() VALUES ()" }

// MySQL reads backslashes in string literals as escapes.
func (mysqlDialect) Like(column, pattern string) sq.Sqlizer {
	return sq.Expr(column+` LIKE ? ESCAPE '\\'`, containing(pattern))
}

type postgresDialect struct{}

func (postgresDialect) Name() string                            { return "postgres" }
func (postgresDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }
func (postgresDialect) QuoteIdent(name string) string           { return `"` + name + `"` }
func (postgresDialect) UseReturning() bool                      { return true }
func (d postgresDialect) ReturningClause(pk ...string) string   { return returning(d, pk) }
func (postgresDialect) EmptyValues() string                     { return "DEFAULT VALUES" }

func (postgresDialect) Like(column, pattern string) sq.Sqlizer {
	return sq.Expr(column+` ILIKE ? ESCAPE '\'`, containing(pattern))
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                            { return "sqlite" }
func (sqliteDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }
func (sqliteDialect) QuoteIdent(name string) string           { return `"` + name + `"` }
func (sqliteDialect) UseReturning() bool                      { return true }
func (d sqliteDialect) ReturningClause(pk ...string) string   { return returning(d, pk) }
func (sqliteDialect) EmptyValues() string                     { return "DEFAULT VALUES" }

// SQLite's LIKE ignores ASCII case.
func (sqliteDialect) Like(column, pattern string) sq.Sqlizer {
	return sq.Expr(column+` LIKE ? ESCAPE '\'`, containing(pattern))
}

func returning(d Dialect, pk []string) string {
	if len(pk) == 0 {
		return ""
	}
	cols := make([]string, len(pk))
	for i, c := range pk {
		cols[i] = d.QuoteIdent(c)
	}
	return " RETURNING " + strings.Join(cols, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containing returns the LIKE pattern matching values that contain s.
func containing(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
