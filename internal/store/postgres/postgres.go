// Package postgres registers the "postgres" store driver.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect is the Postgres flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	DriverName: "postgres",
	Migrations: migrations,
	IsConflict: IsConflict,
}

func init() {
	store.Register("postgres", open)
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

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlstore.Connect(ctx, Dialect, cfg.DSN(), cfg.MaxOpenConns, semconv.DBSystemPostgreSQL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// IsConflict reports unique violations, deadlocks and serialization
// failures.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "23505", // unique_violation
		"40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}
