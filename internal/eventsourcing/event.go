package eventsourcing

import "github.com/google/uuid"

// SequencedEvent places a payload at a position in one aggregate's history.
//
// For a fixed AggregateID the committed sequence numbers are exactly 1..N.
// TransactionID is uuid.Nil for snapshots.
type SequencedEvent[E any] struct {
	AggregateID    uuid.UUID
	SequenceNumber int64
	TransactionID  uuid.UUID
	Payload        E
}

// Sequence wraps payload at the given position without a transaction id.
func Sequence[E any](aggregateID uuid.UUID, seq int64, payload E) SequencedEvent[E] {
	return SequencedEvent[E]{
		AggregateID:    aggregateID,
		SequenceNumber: seq,
		Payload:        payload,
	}
}

// WithTransaction returns a copy of e tagged with txID.
func (e SequencedEvent[E]) WithTransaction(txID uuid.UUID) SequencedEvent[E] {
	e.TransactionID = txID
	return e
}

// Aggregate is a mutable projection of an event history.
//
// Apply folds one event into the aggregate. Snapshot captures the full
// current state as an event, so snapshots travel through the same store and
// replay path as ordinary events.
type Aggregate[E any] interface {
	Apply(event E) error
	Snapshot() E
}

// EventStream is what an aggregate uses to record new events.
type EventStream[E any] interface {
	Append(event E, aggregate Aggregate[E], aggregateID uuid.UUID) error
}
