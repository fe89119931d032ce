package eventsourcing_test

import (
	"errors"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// counterEvent either adds Delta or, when Snapshot is set, resets the
// counter to Value.
type counterEvent struct {
	Delta    int
	Snapshot bool
	Value    int
}

var errNegative = errors.New("negative delta")

type counter struct {
	id      uuid.UUID
	stream  eventsourcing.EventStream[counterEvent]
	value   int
	applied int
}

func newCounter(stream eventsourcing.EventStream[counterEvent], id uuid.UUID) *counter {
	return &counter{id: id, stream: stream}
}

func (c *counter) Apply(e counterEvent) error {
	c.applied++
	if e.Snapshot {
		c.value = e.Value
		return nil
	}
	c.value += e.Delta
	return nil
}

func (c *counter) Snapshot() counterEvent {
	return counterEvent{Snapshot: true, Value: c.value}
}

func (c *counter) Add(delta int) error {
	if delta < 0 {
		return errNegative
	}
	return c.stream.Append(counterEvent{Delta: delta}, c, c.id)
}
