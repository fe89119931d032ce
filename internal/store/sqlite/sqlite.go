// Package sqlite registers the "sqlite" store driver, an embedded database
// that needs no server.
package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect is the SQLite flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	DriverName: "sqlite",
	Migrations: migrations,
	IsConflict: IsConflict,
}

func init() {
	store.Register("sqlite", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Backend, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := sqlstore.New(db, Dialect, clk)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &store.Backend{
		Events: s,
		Closer: s,
		Ping:   s.Ping,
	}, nil
}

// Connect opens the database file. SQLite allows one writer at a time, so
// the pool is limited to a single connection and transactions queue in Go
// instead of failing with SQLITE_BUSY.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlstore.Connect(ctx, Dialect, DSN(cfg), 1, semconv.DBSystemSqlite)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	return db, nil
}

// DSN returns cfg's explicit DSN, or a file URI for cfg.Path with WAL
// journaling and a busy timeout.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// IsConflict reports primary key and unique constraint violations.
func IsConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
