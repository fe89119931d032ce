package eventsourcing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ReplayingStream rebuilds aggregates from the store without writing to it.
type ReplayingStream[E any] struct {
	store    EventStore[E]
	versions map[uuid.UUID]int64
	replayed int
}

// NewReplayingStream returns a read-only stream over store.
func NewReplayingStream[E any](store EventStore[E]) *ReplayingStream[E] {
	return &ReplayingStream[E]{
		store:    store,
		versions: make(map[uuid.UUID]int64),
	}
}

// Replay applies the latest snapshot of the aggregate, if any, and then every
// event after it. It returns ErrAggregateNotFound when there was nothing to
// apply.
func (s *ReplayingStream[E]) Replay(ctx context.Context, aggregate Aggregate[E], aggregateID uuid.UUID) error {
	var version int64

	snap, err := s.store.LatestSnapshot(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("loading snapshot of %s: %w", aggregateID, err)
	}
	if snap != nil {
		if err := aggregate.Apply(snap.Payload); err != nil {
			return fmt.Errorf("applying snapshot %d of %s: %w", snap.SequenceNumber, aggregateID, err)
		}
		version = snap.SequenceNumber
		s.replayed++
	}

	events, err := s.store.Events(ctx, aggregateID, version)
	if err != nil {
		return fmt.Errorf("loading events of %s: %w", aggregateID, err)
	}
	for _, e := range events {
		if err := aggregate.Apply(e.Payload); err != nil {
			return fmt.Errorf("applying event %d of %s: %w", e.SequenceNumber, aggregateID, err)
		}
		version = e.SequenceNumber
		s.replayed++
	}

	if version == 0 {
		return ErrAggregateNotFound
	}
	s.versions[aggregateID] = version
	return nil
}

// Append always fails; a replaying stream never records events.
func (s *ReplayingStream[E]) Append(E, Aggregate[E], uuid.UUID) error {
	return ErrReadOnlyStream
}

// Version returns the in-memory version of an aggregate, zero if unknown.
func (s *ReplayingStream[E]) Version(aggregateID uuid.UUID) int64 {
	return s.versions[aggregateID]
}

// Replayed returns the number of snapshots and events applied so far.
func (s *ReplayingStream[E]) Replayed() int {
	return s.replayed
}

// TransactionalStream buffers the events produced by one business operation
// and commits them in a single store append.
type TransactionalStream[E any] struct {
	*ReplayingStream[E]
	snapshotter Snapshotter[E]
	events      []SequencedEvent[E]
	snapshots   []SequencedEvent[E]
}

// NewTransactionalStream returns an empty stream writing to store.
func NewTransactionalStream[E any](store EventStore[E], snapshotter Snapshotter[E]) *TransactionalStream[E] {
	return &TransactionalStream[E]{
		ReplayingStream: NewReplayingStream(store),
		snapshotter:     snapshotter,
	}
}

// Append applies event to the aggregate and stages it at the next version.
// A snapshot is staged at the same version when the snapshotter asks for one.
func (s *TransactionalStream[E]) Append(event E, aggregate Aggregate[E], aggregateID uuid.UUID) error {
	if err := aggregate.Apply(event); err != nil {
		return fmt.Errorf("applying new event to %s: %w", aggregateID, err)
	}

	version := s.versions[aggregateID] + 1
	s.versions[aggregateID] = version
	s.events = append(s.events, Sequence(aggregateID, version, event))

	if snap, ok := s.snapshotter.TakeSnapshot(aggregate, version); ok {
		s.snapshots = append(s.snapshots, Sequence(aggregateID, version, snap))
	}
	return nil
}

// Staged returns the number of staged events and snapshots.
func (s *TransactionalStream[E]) Staged() (events, snapshots int) {
	return len(s.events), len(s.snapshots)
}

// Commit appends every staged record in one call tagged with txID, then
// clears the buffers. After an error the stream must be discarded.
func (s *TransactionalStream[E]) Commit(ctx context.Context, txID uuid.UUID) error {
	events, snapshots := s.events, s.snapshots
	s.events, s.snapshots = nil, nil

	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}
	return s.store.Append(ctx, events, snapshots, txID)
}
