package sqlite_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/store/sqlite"
	"github.com/jensholdgaard/event-sourced-account/internal/store/sqlstore"
	"github.com/jensholdgaard/event-sourced-account/internal/store/storetest"
)

func newBackend(t *testing.T, path string) *store.Backend {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: path}
	clk := clock.NewStepping(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)

	b, err := store.Open(t.Context(), cfg, clk)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) eventsourcing.EventStore[[]byte] {
		return newBackend(t, filepath.Join(t.TempDir(), "events.db")).Events
	}, storetest.Options{})
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	id := uuid.New()

	first := newBackend(t, path)
	err := first.Events.Append(t.Context(), []eventsourcing.SequencedEvent[[]byte]{
		eventsourcing.Sequence(id, 1, []byte("kept")),
	}, nil, uuid.New())
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Opening again runs the migrations a second time.
	second := newBackend(t, path)
	events, err := second.Events.Events(t.Context(), id, 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != "kept" {
		t.Errorf("Events() = %v, want one event with payload %q", events, "kept")
	}
}

func TestPing(t *testing.T) {
	b := newBackend(t, filepath.Join(t.TempDir(), "events.db"))
	if err := b.Ping(t.Context()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestCreatedAtFromClock(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "events.db")}
	db, err := sqlite.Connect(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := sqlstore.New(db, sqlite.Dialect, clock.Fixed{T: at})
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	id := uuid.New()
	err = s.Append(t.Context(), []eventsourcing.SequencedEvent[[]byte]{
		eventsourcing.Sequence(id, 1, []byte("x")),
	}, nil, uuid.New())
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var got time.Time
	if err := s.DB().GetContext(t.Context(), &got, `SELECT created_at FROM events WHERE aggregate_id = ?`, id[:]); err != nil {
		t.Fatalf("reading created_at: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("created_at = %v, want %v", got, at)
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "other", err: errors.New("disk I/O error"), want: false},
		{name: "unique message", err: errors.New("constraint failed: UNIQUE constraint failed: events.aggregate_id, events.sequence_number (1555)"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sqlite.IsConflict(tt.err); got != tt.want {
				t.Errorf("IsConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
