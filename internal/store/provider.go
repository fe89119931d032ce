package store

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// Backend is what a store driver returns.
type Backend struct {
	// Events is the byte-level event store.
	Events eventsourcing.EventStore[[]byte]
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	if b.Closer == nil {
		return nil
	}
	return b.Closer.Close()
}

// Driver is a function that opens a connection and returns a Backend.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Backend, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns its Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Backend, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// CloserFunc adapts a func() error into an io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
