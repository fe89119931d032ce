package eventsourcing

import "time"

// Metrics receives measurements from Repository. Implementations must be
// safe for concurrent use.
type Metrics interface {
	EventsReplayed(aggType string, count int)
	EventsCommitted(aggType string, events, snapshots int)
	CommitDuration(aggType string, d time.Duration)
	ConcurrencyConflict(aggType string)
	IdempotentSkip(aggType string)
}

type nopMetrics struct{}

func (nopMetrics) EventsReplayed(string, int)           {}
func (nopMetrics) EventsCommitted(string, int, int)     {}
func (nopMetrics) CommitDuration(string, time.Duration) {}
func (nopMetrics) ConcurrencyConflict(string)           {}
func (nopMetrics) IdempotentSkip(string)                {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
