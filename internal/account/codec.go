package account

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// ErrUnknownEventType is returned when decoding a payload whose type tag is
// not an account event.
var ErrUnknownEventType = errors.New("unknown account event type")

// envelope is the stored form of an event: an integer type tag next to the
// JSON encoded variant.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONCodec serializes account events as tagged JSON. It implements
// eventsourcing.Serializer[Event].
type JSONCodec struct{}

func (JSONCodec) Serialize(e Event) ([]byte, error) {
	if e == nil {
		return nil, ErrUnknownEvent
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), Data: data})
}

func (JSONCodec) Deserialize(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshalling envelope: %w", err)
	}

	switch env.Type {
	case TypeOpened:
		return decode[Opened](env)
	case TypeDeposited:
		return decode[Deposited](env)
	case TypeWithdrawn:
		return decode[Withdrawn](env)
	case TypeClosed:
		return Closed{}, nil
	case TypeSnapshot:
		return decode[Snapshot](env)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, env.Type)
	}
}

func decode[T Event](env envelope) (Event, error) {
	var e T
	if err := json.Unmarshal(env.Data, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling %s: %w", env.Type, err)
	}
	return e, nil
}

// NewStore returns an account event store persisting JSON through raw.
func NewStore(raw eventsourcing.EventStore[[]byte]) eventsourcing.EventStore[Event] {
	return eventsourcing.NewSerializingStore[Event](raw, JSONCodec{})
}
