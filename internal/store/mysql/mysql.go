// Package mysql registers the "mysql" store driver.
package mysql

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect is the MySQL flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	DriverName: "mysql",
	Migrations: migrations,
	IsConflict: IsConflict,
}

func init() {
	store.Register("mysql", open)
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

// Connect opens and verifies a MySQL connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Connect(ctx, Dialect, dsn, cfg.MaxOpenConns, semconv.DBSystemMySQL)
	if err != nil {
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}
	return db, nil
}

// DSN returns the configured connection string with the options the store
// relies on: parsed DATETIME columns and UTC timestamps.
func DSN(cfg config.DatabaseConfig) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN())
	if err != nil {
		return "", fmt.Errorf("parsing mysql dsn: %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// IsConflict reports duplicate keys and deadlocks.
func IsConflict(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	switch mysqlErr.Number {
	case 1062, // ER_DUP_ENTRY
		1213: // ER_LOCK_DEADLOCK
		return true
	}
	return false
}
