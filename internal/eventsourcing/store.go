package eventsourcing

import (
	"context"

	"github.com/google/uuid"
)

// EventStore persists sequenced events and snapshots.
//
// Implementations must treat "check for conflicts, then write" as one atomic
// region. A real database achieves that with a uniqueness constraint on
// (aggregate id, sequence number) inside a transaction; MemoryStore uses a
// mutex.
type EventStore[E any] interface {
	// Append persists all events and snapshots, or none of them. Events
	// without a transaction id are tagged with txID. It returns
	// ErrConcurrentModification when a sequence number is taken or the
	// batch does not extend an aggregate's history contiguously.
	Append(ctx context.Context, events, snapshots []SequencedEvent[E], txID uuid.UUID) error

	// Events returns the events of an aggregate with a sequence number
	// greater than fromVersion, in ascending order. Unknown aggregates yield
	// an empty result, not an error.
	Events(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]SequencedEvent[E], error)

	// LatestSnapshot returns the snapshot with the greatest sequence number,
	// or nil when the aggregate has none.
	LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*SequencedEvent[E], error)

	// TransactionExists reports whether a committed event of the aggregate
	// carries txID.
	TransactionExists(ctx context.Context, aggregateID, txID uuid.UUID) (bool, error)
}

// tagged returns events with every missing transaction id set to txID.
func tagged[E any](events []SequencedEvent[E], txID uuid.UUID) []SequencedEvent[E] {
	out := make([]SequencedEvent[E], len(events))
	for i, e := range events {
		if e.TransactionID == uuid.Nil {
			e.TransactionID = txID
		}
		out[i] = e
	}
	return out
}

// ValidateBatch checks that the events of a batch extend each aggregate's
// history contiguously. current reports the committed version of an
// aggregate. It is shared by store implementations so that every backend
// rejects gaps the same way.
func ValidateBatch[E any](events []SequencedEvent[E], current func(uuid.UUID) (int64, error)) error {
	next := make(map[uuid.UUID]int64)
	for _, e := range events {
		want, ok := next[e.AggregateID]
		if !ok {
			v, err := current(e.AggregateID)
			if err != nil {
				return err
			}
			want = v + 1
		}
		if e.SequenceNumber != want {
			return ErrConcurrentModification
		}
		next[e.AggregateID] = want + 1
	}
	return nil
}
