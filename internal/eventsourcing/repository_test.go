package eventsourcing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

var errStoreDown = errors.New("store down")

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Append(context.Context, []eventsourcing.SequencedEvent[counterEvent], []eventsourcing.SequencedEvent[counterEvent], uuid.UUID) error {
	return errStoreDown
}

func (failingStore) Events(context.Context, uuid.UUID, int64) ([]eventsourcing.SequencedEvent[counterEvent], error) {
	return nil, errStoreDown
}

func (failingStore) LatestSnapshot(context.Context, uuid.UUID) (*eventsourcing.SequencedEvent[counterEvent], error) {
	return nil, errStoreDown
}

func (failingStore) TransactionExists(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, errStoreDown
}

// countingStore counts appends reaching the wrapped store.
type countingStore struct {
	eventsourcing.EventStore[counterEvent]
	mu      sync.Mutex
	appends int
}

func (s *countingStore) Append(ctx context.Context, events, snapshots []eventsourcing.SequencedEvent[counterEvent], txID uuid.UUID) error {
	s.mu.Lock()
	s.appends++
	s.mu.Unlock()
	return s.EventStore.Append(ctx, events, snapshots, txID)
}

type recordingMetrics struct {
	mu        sync.Mutex
	replayed  int
	committed int
	conflicts int
	skips     int
}

func (m *recordingMetrics) EventsReplayed(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed += n
}

func (m *recordingMetrics) EventsCommitted(_ string, events, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed += events
}

func (m *recordingMetrics) CommitDuration(string, time.Duration) {}

func (m *recordingMetrics) ConcurrencyConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *recordingMetrics) IdempotentSkip(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skips++
}

func newRepo(t *testing.T, store eventsourcing.EventStore[counterEvent], opts ...eventsourcing.RepositoryOption) *eventsourcing.Repository[*counter, counterEvent] {
	t.Helper()
	opts = append([]eventsourcing.RepositoryOption{eventsourcing.WithAggregateType("counter")}, opts...)
	return eventsourcing.NewRepository[*counter, counterEvent](store, eventsourcing.NoSnapshots[counterEvent]{}, newCounter, opts...)
}

func add(delta int) func(*counter) error {
	return func(c *counter) error { return c.Add(delta) }
}

func TestRepository_CreateAndQuery(t *testing.T) {
	repo := newRepo(t, eventsourcing.NewMemoryStore[counterEvent]())
	id := uuid.New()

	_, err := repo.Query(t.Context(), id)
	require.ErrorIs(t, err, eventsourcing.ErrAggregateNotFound)

	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(3)))

	c, err := repo.Query(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, 3, c.value)

	require.ErrorIs(t, c.Add(1), eventsourcing.ErrReadOnlyStream)
}

func TestRepository_CreateExisting(t *testing.T) {
	repo := newRepo(t, eventsourcing.NewMemoryStore[counterEvent]())
	id := uuid.New()

	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(1)))
	err := repo.Create(t.Context(), id, uuid.New(), add(1))
	require.ErrorIs(t, err, eventsourcing.ErrConcurrentModification)
}

func TestRepository_TransactMissing(t *testing.T) {
	repo := newRepo(t, eventsourcing.NewMemoryStore[counterEvent]())
	err := repo.Transact(t.Context(), uuid.New(), uuid.New(), add(1))
	require.ErrorIs(t, err, eventsourcing.ErrAggregateNotFound)
}

func TestRepository_TransactIsIdempotent(t *testing.T) {
	store := &countingStore{EventStore: eventsourcing.NewMemoryStore[counterEvent]()}
	metrics := &recordingMetrics{}
	repo := newRepo(t, store, eventsourcing.WithMetrics(metrics))
	id := uuid.New()

	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(1)))

	txID := uuid.New()
	for range 3 {
		require.NoError(t, repo.Transact(t.Context(), id, txID, add(10)))
	}

	c, err := repo.Query(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, 11, c.value)
	require.Equal(t, 2, store.appends)
	require.Equal(t, 2, metrics.skips)
	require.Equal(t, 2, metrics.committed)
}

func TestRepository_FailedOperationStagesNothing(t *testing.T) {
	store := &countingStore{EventStore: eventsourcing.NewMemoryStore[counterEvent]()}
	repo := newRepo(t, store)
	id := uuid.New()
	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(1)))

	err := repo.Transact(t.Context(), id, uuid.New(), func(c *counter) error {
		if err := c.Add(5); err != nil {
			return err
		}
		return c.Add(-1)
	})
	require.ErrorIs(t, err, errNegative)
	require.Equal(t, 1, store.appends)

	events, err := repo.Events(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRepository_NoEventsNoStoreCall(t *testing.T) {
	store := &countingStore{EventStore: eventsourcing.NewMemoryStore[counterEvent]()}
	repo := newRepo(t, store)
	id := uuid.New()
	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(1)))

	txID := uuid.New()
	require.NoError(t, repo.Transact(t.Context(), id, txID, func(*counter) error { return nil }))
	require.Equal(t, 1, store.appends)

	exists, err := store.TransactionExists(t.Context(), id, txID)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRepository_TransactPairIsAtomic(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	repo := newRepo(t, store)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, repo.Create(t.Context(), a, uuid.New(), add(10)))
	require.NoError(t, repo.Create(t.Context(), b, uuid.New(), add(10)))

	txID := uuid.New()
	move := func(first, second *counter) error {
		if err := first.Add(1); err != nil {
			return err
		}
		return second.Add(2)
	}
	require.NoError(t, repo.TransactPair(t.Context(), a, b, txID, move))
	require.NoError(t, repo.TransactPair(t.Context(), a, b, txID, move))

	for id, want := range map[uuid.UUID]int{a: 11, b: 12} {
		c, err := repo.Query(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, want, c.value)

		exists, err := store.TransactionExists(t.Context(), id, txID)
		require.NoError(t, err)
		require.True(t, exists)
	}

	err := repo.TransactPair(t.Context(), a, uuid.New(), uuid.New(), move)
	require.ErrorIs(t, err, eventsourcing.ErrAggregateNotFound)
}

func TestRepository_TransactPairRejectsSameAggregate(t *testing.T) {
	store := eventsourcing.NewMemoryStore[counterEvent]()
	repo := newRepo(t, store)
	id := uuid.New()
	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(10)))

	called := false
	err := repo.TransactPair(t.Context(), id, id, uuid.New(), func(first, second *counter) error {
		called = true
		if err := first.Add(1); err != nil {
			return err
		}
		return second.Add(1)
	})
	require.ErrorIs(t, err, eventsourcing.ErrSameAggregate)
	require.False(t, called)

	events, err := store.Events(t.Context(), id, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRepository_ConcurrentWritersConflict(t *testing.T) {
	metrics := &recordingMetrics{}
	repo := newRepo(t, eventsourcing.NewMemoryStore[counterEvent](), eventsourcing.WithMetrics(metrics))
	id := uuid.New()
	require.NoError(t, repo.Create(t.Context(), id, uuid.New(), add(0)))

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.Transact(context.Background(), id, uuid.New(), add(1))
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

	c, err := repo.Query(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, wins, c.value)
	require.Equal(t, writers-wins, metrics.conflicts)

	events, err := repo.Events(t.Context(), id)
	require.NoError(t, err)
	for i, e := range events {
		require.EqualValues(t, i+1, e.SequenceNumber)
	}
}

func TestRepository_StoreErrorsAreWrapped(t *testing.T) {
	repo := newRepo(t, failingStore{})

	err := repo.Transact(t.Context(), uuid.New(), uuid.New(), add(1))
	require.ErrorIs(t, err, errStoreDown)

	err = repo.Create(t.Context(), uuid.New(), uuid.New(), add(1))
	require.ErrorIs(t, err, errStoreDown)
	require.NotErrorIs(t, err, eventsourcing.ErrConcurrentModification)
}

func TestRepository_SnapshotsDoNotChangeState(t *testing.T) {
	for freq := 1; freq <= 5; freq++ {
		store := eventsourcing.NewMemoryStore[counterEvent]()
		snapshotter, err := eventsourcing.NewFrequencySnapshotter[counterEvent](freq)
		require.NoError(t, err)
		repo := eventsourcing.NewRepository[*counter, counterEvent](store, snapshotter, newCounter)
		plain := newRepo(t, eventsourcing.NewMemoryStore[counterEvent]())

		id := uuid.New()
		for _, r := range []*eventsourcing.Repository[*counter, counterEvent]{repo, plain} {
			require.NoError(t, r.Create(t.Context(), id, uuid.New(), add(1)))
			for i := 2; i <= 12; i++ {
				require.NoError(t, r.Transact(t.Context(), id, uuid.New(), add(i)))
			}
		}

		withSnapshots, err := repo.Query(t.Context(), id)
		require.NoError(t, err)
		without, err := plain.Query(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, without.value, withSnapshots.value, "frequency %d", freq)
	}
}
