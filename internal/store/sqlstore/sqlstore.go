// Package sqlstore implements a byte-level event store on top of any SQL
// database reachable through database/sql.
//
// Events and snapshots live in two tables keyed by (aggregate_id,
// sequence_number). Every Append runs in one database transaction: the
// contiguity of the batch is checked against the current maximum sequence
// number, and the primary key catches writers that raced past that check.
// Dialects only supply their schema and the classification of driver
// errors.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// Dialect describes what differs between SQL databases.
type Dialect struct {
	// DriverName is the database/sql driver name, also used by sqlx to pick
	// the bind variable style.
	DriverName string
	// Migrations holds the schema as *.sql files under migrations/.
	Migrations fs.FS
	// IsConflict reports whether a driver error means another writer got
	// there first: a unique violation, deadlock or serialization failure.
	IsConflict func(error) bool
}

// Connect opens an otelsql-instrumented connection and verifies it.
func Connect(ctx context.Context, d Dialect, dsn string, maxOpenConns int, attrs ...attribute.KeyValue) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open(d.DriverName, dsn, otelsql.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d.DriverName, err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}

	db := sqlx.NewDb(sqlDB, d.DriverName)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", d.DriverName, err)
	}
	return db, nil
}

type record struct {
	AggregateID    uuid.UUID `db:"aggregate_id"`
	SequenceNumber int64     `db:"sequence_number"`
	TransactionID  uuid.UUID `db:"transaction_id"`
	Payload        []byte    `db:"payload"`
}

func (r record) event() eventsourcing.SequencedEvent[[]byte] {
	return eventsourcing.SequencedEvent[[]byte]{
		AggregateID:    r.AggregateID,
		SequenceNumber: r.SequenceNumber,
		TransactionID:  r.TransactionID,
		Payload:        r.Payload,
	}
}

// Store is an eventsourcing.EventStore[[]byte] backed by SQL.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	clk     clock.Clock
	log     *slog.Logger

	qVersion        string
	qInsertEvent    string
	qInsertSnapshot string
	qEvents         string
	qSnapshot       string
	qTransaction    string
}

// New returns a Store using db. Call Migrate before first use.
func New(db *sqlx.DB, dialect Dialect, clk clock.Clock) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		clk:     clk,
		log:     slog.Default().With(slog.String("store", dialect.DriverName)),

		qVersion: db.Rebind(`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE aggregate_id = ?`),
		qInsertEvent: db.Rebind(`INSERT INTO events (aggregate_id, sequence_number, transaction_id, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`),
		qInsertSnapshot: db.Rebind(`INSERT INTO snapshots (aggregate_id, sequence_number, transaction_id, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`),
		qEvents: db.Rebind(`SELECT aggregate_id, sequence_number, transaction_id, payload
			FROM events WHERE aggregate_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`),
		qSnapshot: db.Rebind(`SELECT aggregate_id, sequence_number, transaction_id, payload
			FROM snapshots WHERE aggregate_id = ? ORDER BY sequence_number DESC LIMIT 1`),
		qTransaction: db.Rebind(`SELECT COUNT(*) FROM events WHERE aggregate_id = ? AND transaction_id = ?`),
	}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Append(ctx context.Context, events, snapshots []eventsourcing.SequencedEvent[[]byte], txID uuid.UUID) error {
	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = eventsourcing.ValidateBatch(events, func(id uuid.UUID) (int64, error) {
		var version int64
		if err := tx.GetContext(ctx, &version, s.qVersion, bin(id)); err != nil {
			return 0, s.classify(fmt.Errorf("reading version of %s: %w", id, err))
		}
		return version, nil
	})
	if err != nil {
		return err
	}

	now := s.clk.Now()
	if err := s.insert(ctx, tx, s.qInsertEvent, events, txID, now); err != nil {
		return err
	}
	if err := s.insert(ctx, tx, s.qInsertSnapshot, snapshots, uuid.Nil, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("committing transaction: %w", err))
	}

	s.log.DebugContext(ctx, "append",
		slog.Int("events", len(events)),
		slog.Int("snapshots", len(snapshots)),
		slog.String("transaction_id", txID.String()),
	)
	return nil
}

func (s *Store) insert(ctx context.Context, tx *sqlx.Tx, query string, records []eventsourcing.SequencedEvent[[]byte], txID uuid.UUID, now time.Time) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		recordTx := r.TransactionID
		if recordTx == uuid.Nil {
			recordTx = txID
		}
		if _, err := stmt.ExecContext(ctx, bin(r.AggregateID), r.SequenceNumber, bin(recordTx), r.Payload, now); err != nil {
			return s.classify(fmt.Errorf("inserting record (aggregate=%s, seq=%d): %w", r.AggregateID, r.SequenceNumber, err))
		}
	}
	return nil
}

func (s *Store) Events(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]eventsourcing.SequencedEvent[[]byte], error) {
	var rows []record
	if err := s.db.SelectContext(ctx, &rows, s.qEvents, bin(aggregateID), fromVersion); err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	out := make([]eventsourcing.SequencedEvent[[]byte], len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*eventsourcing.SequencedEvent[[]byte], error) {
	var r record
	err := s.db.GetContext(ctx, &r, s.qSnapshot, bin(aggregateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	e := r.event()
	return &e, nil
}

func (s *Store) TransactionExists(ctx context.Context, aggregateID, txID uuid.UUID) (bool, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.qTransaction, bin(aggregateID), bin(txID)); err != nil {
		return false, fmt.Errorf("looking up transaction: %w", err)
	}
	return n > 0, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify turns conflicting-writer errors into ErrConcurrentModification.
func (s *Store) classify(err error) error {
	if s.dialect.IsConflict != nil && s.dialect.IsConflict(err) {
		s.log.Debug("conflicting writer", slog.String("error", err.Error()))
		return eventsourcing.ErrConcurrentModification
	}
	return err
}

// bin returns the 16 raw bytes of id, the form stored in id columns.
func bin(id uuid.UUID) []byte {
	return id[:]
}

var _ eventsourcing.EventStore[[]byte] = (*Store)(nil)
