package eventsourcing

import "errors"

var (
	// ErrConcurrentModification is returned when a commit lost the race for
	// one of its sequence numbers. The whole batch was rejected.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAggregateNotFound is returned when an aggregate has neither a
	// snapshot nor any events.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrSameAggregate is returned by TransactPair when both ids are equal.
	ErrSameAggregate = errors.New("transaction pair needs two distinct aggregates")

	// ErrReadOnlyStream is returned by ReplayingStream.Append.
	ErrReadOnlyStream = errors.New("event stream is read-only")

	// ErrInvalidSnapshotFrequency is returned for snapshot frequencies below 1.
	ErrInvalidSnapshotFrequency = errors.New("snapshot frequency must be at least 1")
)
