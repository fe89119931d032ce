package eventsourcing

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory EventStore for tests, development and the
// "memory" store driver. Use MemoryStore[[]byte] for a byte-level store.
//
// All reads and the whole validate-then-write sequence of Append run under
// a single mutex, so two concurrent commits can never both claim the same
// sequence number.
type MemoryStore[E any] struct {
	mu           sync.Mutex
	log          *slog.Logger
	events       map[uuid.UUID][]SequencedEvent[E]
	snapshots    map[uuid.UUID][]SequencedEvent[E]
	transactions map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore[E any]() *MemoryStore[E] {
	return &MemoryStore[E]{
		log:          slog.Default().With(slog.String("store", "memory")),
		events:       make(map[uuid.UUID][]SequencedEvent[E]),
		snapshots:    make(map[uuid.UUID][]SequencedEvent[E]),
		transactions: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (s *MemoryStore[E]) Append(_ context.Context, events, snapshots []SequencedEvent[E], txID uuid.UUID) error {
	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateBatch(events, s.version); err != nil {
		return err
	}
	for _, snap := range snapshots {
		if s.hasSnapshot(snap.AggregateID, snap.SequenceNumber) {
			return ErrConcurrentModification
		}
	}

	for _, e := range tagged(events, txID) {
		s.events[e.AggregateID] = append(s.events[e.AggregateID], e)

		txs, ok := s.transactions[e.AggregateID]
		if !ok {
			txs = make(map[uuid.UUID]struct{})
			s.transactions[e.AggregateID] = txs
		}
		txs[e.TransactionID] = struct{}{}
	}
	for _, snap := range tagged(snapshots, txID) {
		s.snapshots[snap.AggregateID] = append(s.snapshots[snap.AggregateID], snap)
	}

	s.log.Debug("append",
		slog.Int("events", len(events)),
		slog.Int("snapshots", len(snapshots)),
		slog.String("transaction_id", txID.String()),
	)
	return nil
}

func (s *MemoryStore[E]) Events(_ context.Context, aggregateID uuid.UUID, fromVersion int64) ([]SequencedEvent[E], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[aggregateID]
	out := make([]SequencedEvent[E], 0)
	// stored[i] has sequence number i+1.
	if fromVersion < 0 {
		fromVersion = 0
	}
	if fromVersion < int64(len(stored)) {
		out = append(out, stored[fromVersion:]...)
	}
	return out, nil
}

func (s *MemoryStore[E]) LatestSnapshot(_ context.Context, aggregateID uuid.UUID) (*SequencedEvent[E], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *SequencedEvent[E]
	for _, snap := range s.snapshots[aggregateID] {
		if latest == nil || snap.SequenceNumber > latest.SequenceNumber {
			latest = &snap
		}
	}
	return latest, nil
}

func (s *MemoryStore[E]) TransactionExists(_ context.Context, aggregateID, txID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.transactions[aggregateID][txID]
	return ok, nil
}

// Ping always succeeds. It lets MemoryStore stand in wherever a database
// health check is expected.
func (s *MemoryStore[E]) Ping(context.Context) error { return nil }

func (s *MemoryStore[E]) version(aggregateID uuid.UUID) (int64, error) {
	return int64(len(s.events[aggregateID])), nil
}

func (s *MemoryStore[E]) hasSnapshot(aggregateID uuid.UUID, seq int64) bool {
	for _, snap := range s.snapshots[aggregateID] {
		if snap.SequenceNumber == seq {
			return true
		}
	}
	return false
}

var _ EventStore[[]byte] = (*MemoryStore[[]byte])(nil)
