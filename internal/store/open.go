package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	MaxConns    int32
	SQLitePath  string
}

// Open connects to the configured backend and brings its schema up to date.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	switch opts.Driver {
	case DriverPostgres:
		pg, err := NewPostgres(ctx, opts.DatabaseURL, opts.MaxConns, log)
		if err != nil {
			return nil, err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		if err := RunMigrations(ctx, pg, log); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case DriverSQLite, "":
		return OpenSQLite(SQLiteOptions{Path: opts.SQLitePath}, log)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}
