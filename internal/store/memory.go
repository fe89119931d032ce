package store

import (
	"context"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

func init() {
	Register("memory", openMemory)
}

// openMemory is the Driver for the "memory" backend. Every call returns a
// fresh, empty store that lives as long as the process.
func openMemory(context.Context, config.DatabaseConfig, clock.Clock) (*Backend, error) {
	s := eventsourcing.NewMemoryStore[[]byte]()
	return &Backend{
		Events: s,
		Closer: CloserFunc(func() error { return nil }),
		Ping:   s.Ping,
	}, nil
}
