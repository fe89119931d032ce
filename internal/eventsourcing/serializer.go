package eventsourcing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Serializer converts event payloads to and from bytes. Deserialize must
// invert Serialize exactly.
type Serializer[E any] interface {
	Serialize(event E) ([]byte, error)
	Deserialize(data []byte) (E, error)
}

// SerializingStore adapts a byte-level store into an EventStore[E].
type SerializingStore[E any] struct {
	raw        EventStore[[]byte]
	serializer Serializer[E]
}

// NewSerializingStore returns an EventStore[E] persisting through raw.
func NewSerializingStore[E any](raw EventStore[[]byte], serializer Serializer[E]) *SerializingStore[E] {
	return &SerializingStore[E]{raw: raw, serializer: serializer}
}

func (s *SerializingStore[E]) Append(ctx context.Context, events, snapshots []SequencedEvent[E], txID uuid.UUID) error {
	rawEvents, err := s.serializeAll(events)
	if err != nil {
		return err
	}
	rawSnapshots, err := s.serializeAll(snapshots)
	if err != nil {
		return err
	}
	return s.raw.Append(ctx, rawEvents, rawSnapshots, txID)
}

func (s *SerializingStore[E]) Events(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]SequencedEvent[E], error) {
	raw, err := s.raw.Events(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}
	out := make([]SequencedEvent[E], len(raw))
	for i, r := range raw {
		if out[i], err = s.deserialize(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SerializingStore[E]) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*SequencedEvent[E], error) {
	raw, err := s.raw.LatestSnapshot(ctx, aggregateID)
	if err != nil || raw == nil {
		return nil, err
	}
	snap, err := s.deserialize(*raw)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SerializingStore[E]) TransactionExists(ctx context.Context, aggregateID, txID uuid.UUID) (bool, error) {
	return s.raw.TransactionExists(ctx, aggregateID, txID)
}

func (s *SerializingStore[E]) serializeAll(events []SequencedEvent[E]) ([]SequencedEvent[[]byte], error) {
	out := make([]SequencedEvent[[]byte], len(events))
	for i, e := range events {
		data, err := s.serializer.Serialize(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("serializing event (aggregate=%s, seq=%d): %w", e.AggregateID, e.SequenceNumber, err)
		}
		out[i] = SequencedEvent[[]byte]{
			AggregateID:    e.AggregateID,
			SequenceNumber: e.SequenceNumber,
			TransactionID:  e.TransactionID,
			Payload:        data,
		}
	}
	return out, nil
}

func (s *SerializingStore[E]) deserialize(r SequencedEvent[[]byte]) (SequencedEvent[E], error) {
	payload, err := s.serializer.Deserialize(r.Payload)
	if err != nil {
		return SequencedEvent[E]{}, fmt.Errorf("deserializing event (aggregate=%s, seq=%d): %w", r.AggregateID, r.SequenceNumber, err)
	}
	return SequencedEvent[E]{
		AggregateID:    r.AggregateID,
		SequenceNumber: r.SequenceNumber,
		TransactionID:  r.TransactionID,
		Payload:        payload,
	}, nil
}

var _ EventStore[int] = (*SerializingStore[int])(nil)
