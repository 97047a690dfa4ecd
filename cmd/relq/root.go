package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mickamy/relq/internal/config"
	"github.com/mickamy/relq/memstore"
	"github.com/mickamy/relq/orm"
	"github.com/mickamy/relq/sqlstore"
)

// rootOptions holds the global flags. Non-empty flags override the config file.
type rootOptions struct {
	configPath string
	driver     string
	dsn        string
	logLevel   string
}

// env is what every subcommand works with once the config is loaded.
type env struct {
	store  *orm.Store
	logger zerolog.Logger
	closer io.Closer
}

func (e *env) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "relq",
		Short:         "Query relational data through declared relations",
		Long:          "relq loads a table and relation declaration file and runs reads and writes against a SQL database or an in-memory store, printing JSON.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "relq.yaml", "path to the config file")
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", `database driver ("memory", "mysql", "pgx", "sqlite3")`)
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "data source name passed to the driver")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newGetCmd(opts),
		newAllCmd(opts),
		newCountCmd(opts),
		newPostCmd(opts),
		newPutCmd(opts),
		newDelCmd(opts),
		newLinkCmd(opts, true),
		newLinkCmd(opts, false),
		newTablesCmd(opts),
	)
	return cmd
}

// open loads the config and builds the store the subcommands run against.
func (o *rootOptions) open(ctx context.Context, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.driver != "" {
		cfg.Driver = o.driver
	}
	if o.dsn != "" {
		cfg.DSN = o.dsn
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen, NoColor: os.Getenv("NO_COLOR") != ""}).
		Level(cfg.Level()).
		With().Timestamp().Logger()

	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}

	e := &env{logger: logger}
	var adapter orm.Adapter
	if cfg.Driver == config.DriverMemory {
		mem, err := memstore.New()
		if err != nil {
			return nil, err
		}
		adapter = mem
	} else {
		db, err := sqlstore.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
		}
		e.closer = db
		var opts []sqlstore.Option
		if cfg.SnakeCase {
			opts = append(opts, sqlstore.WithSnakeCase())
		}
		adapter = sqlstore.NewAdapter(db.Debug(logger), opts...)
	}

	e.store, err = schema.Build(adapter, orm.WithLogger(logger))
	if err != nil {
		return nil, errors.Join(err, e.Close())
	}
	if err := seed(logger.WithContext(ctx), e.store, cfg); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	logger.Debug().Str("driver", cfg.Driver).Strs("tables", e.store.Tables()).Msg("store ready")
	return e, nil
}

// seed inserts the configured seed rows, tables in declaration order.
func seed(ctx context.Context, store *orm.Store, cfg *config.Config) error {
	for _, t := range cfg.Tables {
		data := cfg.Seed[t.Name]
		if len(data) == 0 {
			continue
		}
		rows := make([]orm.Row, len(data))
		for i, r := range data {
			rows[i] = r
		}
		if _, err := store.Table(t.Name).PostAll(ctx, rows); err != nil {
			return fmt.Errorf("failed to seed %s: %w", t.Name, err)
		}
	}
	return nil
}

// run opens the store, runs fn with a context carrying the logger, and
// closes the store again.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) (err error) {
	e, err := o.open(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e.logger.WithContext(cmd.Context()), e)
}
