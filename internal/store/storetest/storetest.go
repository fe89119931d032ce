// Package storetest is a conformance suite for byte-level event stores.
// Every backend runs it from its own tests.
package storetest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/event-sourced-account/internal/account"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) eventsourcing.EventStore[[]byte]

// Options tunes the suite for slower backends.
type Options struct {
	// Writers is the number of concurrent writers in the contention tests.
	Writers int
	// Rounds is the number of deposits each writer makes.
	Rounds int
}

// Run runs the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory, opts Options) {
	if opts.Writers == 0 {
		opts.Writers = 8
	}
	if opts.Rounds == 0 {
		opts.Rounds = 25
	}

	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, newStore(t)) })
	t.Run("UnknownAggregate", func(t *testing.T) { testUnknownAggregate(t, newStore(t)) })
	t.Run("EmptyBatch", func(t *testing.T) { testEmptyBatch(t, newStore(t)) })
	t.Run("DuplicateSequence", func(t *testing.T) { testDuplicateSequence(t, newStore(t)) })
	t.Run("Gap", func(t *testing.T) { testGap(t, newStore(t)) })
	t.Run("MultiAggregateAtomic", func(t *testing.T) { testMultiAggregateAtomic(t, newStore(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
	t.Run("PreservesTransactionIDs", func(t *testing.T) { testPreservesTransactionIDs(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t), opts.Writers) })
	t.Run("AccountDeposits", func(t *testing.T) { testAccountDeposits(t, newStore(t), opts) })
	t.Run("AccountTransfers", func(t *testing.T) { testAccountTransfers(t, newStore(t)) })
}

func batch(id uuid.UUID, from int64, payloads ...string) []eventsourcing.SequencedEvent[[]byte] {
	out := make([]eventsourcing.SequencedEvent[[]byte], len(payloads))
	for i, p := range payloads {
		out[i] = eventsourcing.Sequence(id, from+int64(i), []byte(p))
	}
	return out
}

func requireLog(t *testing.T, s eventsourcing.EventStore[[]byte], id uuid.UUID, want ...string) {
	t.Helper()
	events, err := s.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Len(t, events, len(want))
	for i, e := range events {
		require.Equal(t, id, e.AggregateID)
		require.EqualValues(t, i+1, e.SequenceNumber)
		require.Equal(t, want[i], string(e.Payload))
	}
}

func testAppendAndRead(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id, txID := uuid.New(), uuid.New()
	require.NoError(t, s.Append(t.Context(), batch(id, 1, "a", "b", "c"), nil, txID))
	requireLog(t, s, id, "a", "b", "c")

	tail, err := s.Events(t.Context(), id, 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.EqualValues(t, 2, tail[0].SequenceNumber)
	require.Equal(t, txID, tail[0].TransactionID)

	exists, err := s.TransactionExists(t.Context(), id, txID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.TransactionExists(t.Context(), id, uuid.New())
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Append(t.Context(), batch(id, 4, "d"), nil, uuid.New()))
	requireLog(t, s, id, "a", "b", "c", "d")
}

func testUnknownAggregate(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id := uuid.New()

	events, err := s.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Empty(t, events)

	snap, err := s.LatestSnapshot(t.Context(), id)
	require.NoError(t, err)
	require.Nil(t, snap)

	exists, err := s.TransactionExists(t.Context(), id, uuid.New())
	require.NoError(t, err)
	require.False(t, exists)
}

func testEmptyBatch(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	require.NoError(t, s.Append(t.Context(), nil, nil, uuid.New()))
}

func testDuplicateSequence(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id := uuid.New()
	require.NoError(t, s.Append(t.Context(), batch(id, 1, "a", "b"), nil, uuid.New()))

	err := s.Append(t.Context(), batch(id, 2, "x"), nil, uuid.New())
	require.ErrorIs(t, err, eventsourcing.ErrConcurrentModification)
	requireLog(t, s, id, "a", "b")
}

func testGap(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id := uuid.New()
	require.ErrorIs(t, s.Append(t.Context(), batch(id, 2, "x"), nil, uuid.New()), eventsourcing.ErrConcurrentModification)

	require.NoError(t, s.Append(t.Context(), batch(id, 1, "a"), nil, uuid.New()))
	require.ErrorIs(t, s.Append(t.Context(), batch(id, 3, "x"), nil, uuid.New()), eventsourcing.ErrConcurrentModification)
	requireLog(t, s, id, "a")
}

func testMultiAggregateAtomic(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.Append(t.Context(), batch(b, 1, "b1"), nil, uuid.New()))

	txID := uuid.New()
	conflicting := append(batch(a, 1, "a1"), batch(b, 1, "b1-again")...)
	require.ErrorIs(t, s.Append(t.Context(), conflicting, nil, txID), eventsourcing.ErrConcurrentModification)

	requireLog(t, s, a)
	requireLog(t, s, b, "b1")
	exists, err := s.TransactionExists(t.Context(), a, txID)
	require.NoError(t, err)
	require.False(t, exists)

	both := append(batch(a, 1, "a1"), batch(b, 2, "b2")...)
	require.NoError(t, s.Append(t.Context(), both, nil, txID))
	requireLog(t, s, a, "a1")
	requireLog(t, s, b, "b1", "b2")
	for _, id := range []uuid.UUID{a, b} {
		exists, err := s.TransactionExists(t.Context(), id, txID)
		require.NoError(t, err)
		require.True(t, exists)
	}
}

func testSnapshots(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id, snapTx := uuid.New(), uuid.New()
	require.NoError(t, s.Append(t.Context(), batch(id, 1, "a", "b"), batch(id, 2, "snap-2"), uuid.New()))
	require.NoError(t, s.Append(t.Context(), batch(id, 3, "c", "d"), batch(id, 4, "snap-4"), snapTx))
	require.NoError(t, s.Append(t.Context(), batch(id, 5, "e"), nil, uuid.New()))

	snap, err := s.LatestSnapshot(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.EqualValues(t, 4, snap.SequenceNumber)
	require.Equal(t, "snap-4", string(snap.Payload))
	require.Equal(t, id, snap.AggregateID)
	require.Equal(t, snapTx, snap.TransactionID, "snapshots carry the transaction id of their batch")

	after, err := s.Events(t.Context(), id, snap.SequenceNumber)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "e", string(after[0].Payload))
}

func testPreservesTransactionIDs(t *testing.T, s eventsourcing.EventStore[[]byte]) {
	id := uuid.New()
	own, commit := uuid.New(), uuid.New()

	events := batch(id, 1, "a", "b")
	events[0] = events[0].WithTransaction(own)
	require.NoError(t, s.Append(t.Context(), events, nil, commit))

	stored, err := s.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Equal(t, own, stored[0].TransactionID)
	require.Equal(t, commit, stored[1].TransactionID)
}

func testConcurrentAppends(t *testing.T, s eventsourcing.EventStore[[]byte], writers int) {
	id := uuid.New()
	require.NoError(t, s.Append(t.Context(), batch(id, 1, "seed"), nil, uuid.New()))

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Append(context.Background(), batch(id, 2, fmt.Sprintf("writer-%d", i)), nil, uuid.New())
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, eventsourcing.ErrConcurrentModification)
	}
	require.Equal(t, 1, wins)

	events, err := s.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func newService(t *testing.T, raw eventsourcing.EventStore[[]byte], frequency int) *account.Service {
	t.Helper()
	snapshotter, err := eventsourcing.SnapshotterFor[account.Event](frequency)
	require.NoError(t, err)
	return account.NewService(account.NewStore(raw), snapshotter, slog.Default(), noop.NewTracerProvider(),
		account.WithRetry(1000, 100*time.Microsecond))
}

func testAccountDeposits(t *testing.T, raw eventsourcing.EventStore[[]byte], opts Options) {
	svc := newService(t, raw, 10)
	id := uuid.New()
	require.NoError(t, svc.OpenAccount(t.Context(), id, uuid.New()))

	var wg sync.WaitGroup
	errs := make(chan error, opts.Writers*opts.Rounds)
	for range opts.Writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range opts.Rounds {
				if err := svc.Deposit(context.Background(), id, 1, uuid.New()); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := svc.QueryAccount(t.Context(), id)
	require.NoError(t, err)
	require.EqualValues(t, opts.Writers*opts.Rounds, snap.Balance)

	records, err := svc.Events(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, records, opts.Writers*opts.Rounds+1)
	for i, r := range records {
		require.EqualValues(t, i+1, r.SequenceNumber)
	}
}

func testAccountTransfers(t *testing.T, raw eventsourcing.EventStore[[]byte]) {
	svc := newService(t, raw, 3)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, svc.OpenAccount(t.Context(), a, uuid.New()))
	require.NoError(t, svc.OpenAccount(t.Context(), b, uuid.New()))
	require.NoError(t, svc.Deposit(t.Context(), a, 42, uuid.New()))

	txID := uuid.New()
	require.NoError(t, svc.Transfer(t.Context(), a, b, 40, txID))
	require.NoError(t, svc.Transfer(t.Context(), a, b, 40, txID))
	require.ErrorIs(t, svc.Transfer(t.Context(), a, b, 3, uuid.New()), account.ErrInsufficientBalance)

	require.NoError(t, svc.Withdraw(t.Context(), a, 2, uuid.New()))
	require.NoError(t, svc.CloseAccount(t.Context(), a))
	require.ErrorIs(t, svc.Transfer(t.Context(), b, a, 1, uuid.New()), account.ErrAccountNotOpen)

	snapA, err := svc.QueryAccount(t.Context(), a)
	require.NoError(t, err)
	require.False(t, snapA.Open)
	require.Zero(t, snapA.Balance)

	snapB, err := svc.QueryAccount(t.Context(), b)
	require.NoError(t, err)
	require.EqualValues(t, 40, snapB.Balance)
}
