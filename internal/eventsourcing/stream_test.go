package eventsourcing_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

func seed(t *testing.T, s eventsourcing.EventStore[counterEvent], id uuid.UUID, deltas ...int) {
	t.Helper()
	events := make([]eventsourcing.SequencedEvent[counterEvent], len(deltas))
	for i, d := range deltas {
		events[i] = eventsourcing.Sequence(id, int64(i+1), counterEvent{Delta: d})
	}
	require.NoError(t, s.Append(t.Context(), events, nil, uuid.New()))
}

func TestReplayingStream_NotFound(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	stream := eventsourcing.NewReplayingStream[counterEvent](store)
	id := uuid.New()

	err := stream.Replay(t.Context(), newCounter(stream, id), id)
	require.ErrorIs(t, err, eventsourcing.ErrAggregateNotFound)
	require.Zero(t, stream.Version(id))
}

func TestReplayingStream_ReadOnly(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	id := uuid.New()
	seed(t, store, id, 1)

	stream := eventsourcing.NewReplayingStream[counterEvent](store)
	c := newCounter(stream, id)
	require.NoError(t, stream.Replay(t.Context(), c, id))

	require.ErrorIs(t, c.Add(1), eventsourcing.ErrReadOnlyStream)
}

func TestReplayingStream_StartsFromLatestSnapshot(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	id := uuid.New()

	require.NoError(t, store.Append(t.Context(),
		[]eventsourcing.SequencedEvent[counterEvent]{
			eventsourcing.Sequence(id, 1, counterEvent{Delta: 1}),
			eventsourcing.Sequence(id, 2, counterEvent{Delta: 2}),
			eventsourcing.Sequence(id, 3, counterEvent{Delta: 3}),
		},
		[]eventsourcing.SequencedEvent[counterEvent]{
			eventsourcing.Sequence(id, 2, counterEvent{Snapshot: true, Value: 3}),
		},
		uuid.New(),
	))

	stream := eventsourcing.NewReplayingStream[counterEvent](store)
	c := newCounter(stream, id)
	require.NoError(t, stream.Replay(t.Context(), c, id))

	require.Equal(t, 6, c.value)
	require.Equal(t, 2, c.applied)
	require.Equal(t, 2, stream.Replayed())
	require.EqualValues(t, 3, stream.Version(id))
}

func TestTransactionalStream_StageAndCommit(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	id := uuid.New()
	seed(t, store, id, 5)

	snapshotter, err := eventsourcing.NewFrequencySnapshotter[counterEvent](2)
	require.NoError(t, err)

	stream := eventsourcing.NewTransactionalStream[counterEvent](store, snapshotter)
	c := newCounter(stream, id)
	require.NoError(t, stream.Replay(t.Context(), c, id))

	require.NoError(t, c.Add(1))
	require.NoError(t, c.Add(2))
	require.Equal(t, 8, c.value)
	require.EqualValues(t, 3, stream.Version(id))

	events, snapshots := stream.Staged()
	require.Equal(t, 2, events)
	require.Equal(t, 1, snapshots)

	// Nothing is visible before the commit.
	stored, err := store.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	txID := uuid.New()
	require.NoError(t, stream.Commit(t.Context(), txID))

	stored, err = store.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, txID, stored[2].TransactionID)

	snap, err := store.LatestSnapshot(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.EqualValues(t, 2, snap.SequenceNumber)
	require.Equal(t, 6, snap.Payload.Value)

	events, snapshots = stream.Staged()
	require.Zero(t, events)
	require.Zero(t, snapshots)
}

func TestTransactionalStream_CommitConflict(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	id := uuid.New()
	seed(t, store, id, 1)

	first := eventsourcing.NewTransactionalStream[counterEvent](store, eventsourcing.NoSnapshots[counterEvent]{})
	second := eventsourcing.NewTransactionalStream[counterEvent](store, eventsourcing.NoSnapshots[counterEvent]{})

	a := newCounter(first, id)
	b := newCounter(second, id)
	require.NoError(t, first.Replay(t.Context(), a, id))
	require.NoError(t, second.Replay(t.Context(), b, id))

	require.NoError(t, a.Add(1))
	require.NoError(t, b.Add(1))

	require.NoError(t, first.Commit(t.Context(), uuid.New()))
	require.ErrorIs(t, second.Commit(t.Context(), uuid.New()), eventsourcing.ErrConcurrentModification)
}

func TestTransactionalStream_EmptyCommit(t *testing.T) {
	stream := eventsourcing.NewTransactionalStream[counterEvent](failingStore{}, eventsourcing.NoSnapshots[counterEvent]{})
	require.NoError(t, stream.Commit(t.Context(), uuid.New()))
}
