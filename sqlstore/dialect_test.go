package sqlstore_test

import (
	"testing"

	sq "github.com/Masterminds/squirrel"

	"github.com/mickamy/relq/sqlstore"
)

func TestMySQLUseReturning(t *testing.T) {
	t.Parallel()

	if sqlstore.MySQL.UseReturning() {
		t.Error("MySQL.UseReturning() = true, want false")
	}
}

func TestMySQLReturningClause(t *testing.T) {
	t.Parallel()

	if got := sqlstore.MySQL.ReturningClause("id"); got != "" {
		t.Errorf("MySQL.ReturningClause(\"id\") = %q, want %q", got, "")
	}
}

func TestPostgreSQLUseReturning(t *testing.T) {
	t.Parallel()

	if !sqlstore.PostgreSQL.UseReturning() {
		t.Error("PostgreSQL.UseReturning() = false, want true")
	}
}

func TestReturningClause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		pk      []string
		want    string
	}{
		{"postgres single", sqlstore.PostgreSQL, []string{"id"}, ` RETURNING "id"`},
		{"postgres composite", sqlstore.PostgreSQL, []string{"a", "b"}, ` RETURNING "a", "b"`},
		{"sqlite", sqlstore.SQLite, []string{"id"}, ` RETURNING "id"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.dialect.ReturningClause(tt.pk...); got != tt.want {
				t.Errorf("ReturningClause(%v) = %q, want %q", tt.pk, got, tt.want)
			}
		})
	}
}

func TestEmptyValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		want    string
	}{
		{"mysql", sqlstore.MySQL, "() VALUES ()"},
		{"postgres", sqlstore.PostgreSQL, "DEFAULT VALUES"},
		{"sqlite", sqlstore.SQLite, "DEFAULT VALUES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.dialect.EmptyValues(); got != tt.want {
				t.Errorf("EmptyValues() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMySQLQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := sqlstore.MySQL.QuoteIdent("order"); got != "`order`" {
		t.Errorf("QuoteIdent = %q, want %q", got, "`order`")
	}
}

func TestPostgreSQLQuoteIdent(t *testing.T) {
	t.Parallel()

	want := `"order"`
	if got := sqlstore.PostgreSQL.QuoteIdent("order"); got != want {
		t.Errorf("QuoteIdent = %q, want %q", got, want)
	}
}

func TestPlaceholderFormat(t *testing.T) {
	t.Parallel()

	if sqlstore.PostgreSQL.PlaceholderFormat() != sq.Dollar {
		t.Error("PostgreSQL.PlaceholderFormat() is not sq.Dollar")
	}
	if sqlstore.MySQL.PlaceholderFormat() != sq.Question {
		t.Error("MySQL.PlaceholderFormat() is not sq.Question")
	}
	if sqlstore.SQLite.PlaceholderFormat() != sq.Question {
		t.Error("SQLite.PlaceholderFormat() is not sq.Question")
	}
}

func TestLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		wantSQL string
	}{
		{"mysql", sqlstore.MySQL, "`name` LIKE ? ESCAPE '\\\\'"},
		{"postgres", sqlstore.PostgreSQL, `"name" ILIKE ? ESCAPE '\'`},
		{"sqlite", sqlstore.SQLite, `"name" LIKE ? ESCAPE '\'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sql, args, err := tt.dialect.Like(tt.dialect.QuoteIdent("name"), "50%_off").ToSql()
			if err != nil {
				t.Fatalf("ToSql: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != 1 || args[0] != `%50\%\_off%` {
				t.Errorf("args = %v, want [%%50\\%%\\_off%%]", args)
			}
		})
	}
}

func TestDialectFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		driver string
		want   sqlstore.Dialect
	}{
		{"mysql", sqlstore.MySQL},
		{"pgx", sqlstore.PostgreSQL},
		{"postgres", sqlstore.PostgreSQL},
		{"sqlite3", sqlstore.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			t.Parallel()

			got, err := sqlstore.DialectFor(tt.driver)
			if err != nil {
				t.Fatalf("DialectFor(%q): %v", tt.driver, err)
			}
			if got != tt.want {
				t.Errorf("DialectFor(%q) = %s, want %s", tt.driver, got.Name(), tt.want.Name())
			}
		})
	}

	if _, err := sqlstore.DialectFor("oracle"); err == nil {
		t.Error("DialectFor(oracle) succeeded, want error")
	}
}
