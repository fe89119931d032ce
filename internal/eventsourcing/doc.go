// Package eventsourcing is the storage core of the account service.
//
// Aggregates are never persisted directly. Every mutation is recorded as an
// immutable event under a per-aggregate sequence number, and current state
// is rebuilt by replaying the latest snapshot followed by the events that
// came after it.
//
// Writers do not lock. A TransactionalStream replays state, lets a business
// operation stage new events, and commits the whole batch in a single
// EventStore.Append call. The store rejects the batch with
// ErrConcurrentModification when another writer already used one of the
// sequence numbers, and the caller retries from a fresh replay.
//
// Each commit is tagged with a caller supplied transaction id. Repository
// checks that id after replaying, so re-running an operation that already
// committed is a no-op.
package eventsourcing
