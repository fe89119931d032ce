package eventsourcing

// Snapshotter decides whether to capture a snapshot after an event has been
// staged and applied. Implementations must be deterministic and free of side
// effects.
type Snapshotter[E any] interface {
	TakeSnapshot(aggregate Aggregate[E], version int64) (E, bool)
}

// FrequencySnapshotter snapshots every Nth version.
type FrequencySnapshotter[E any] struct {
	frequency int64
}

// NewFrequencySnapshotter returns a snapshotter firing at versions that are
// multiples of frequency.
func NewFrequencySnapshotter[E any](frequency int) (*FrequencySnapshotter[E], error) {
	if frequency < 1 {
		return nil, ErrInvalidSnapshotFrequency
	}
	return &FrequencySnapshotter[E]{frequency: int64(frequency)}, nil
}

func (s *FrequencySnapshotter[E]) TakeSnapshot(aggregate Aggregate[E], version int64) (E, bool) {
	if version%s.frequency != 0 {
		var zero E
		return zero, false
	}
	return aggregate.Snapshot(), true
}

// NoSnapshots never snapshots.
type NoSnapshots[E any] struct{}

func (NoSnapshots[E]) TakeSnapshot(Aggregate[E], int64) (E, bool) {
	var zero E
	return zero, false
}

// SnapshotterFor returns a FrequencySnapshotter for positive frequencies
// and NoSnapshots for zero, matching the event_sourcing.snapshot_frequency
// config setting.
func SnapshotterFor[E any](frequency int) (Snapshotter[E], error) {
	if frequency == 0 {
		return NoSnapshots[E]{}, nil
	}
	return NewFrequencySnapshotter[E](frequency)
}
