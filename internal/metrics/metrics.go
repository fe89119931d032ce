// Package metrics provides a Prometheus implementation of
// eventsourcing.Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// Default histogram buckets for commit latency (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

// Prometheus implements eventsourcing.Metrics.
type Prometheus struct {
	eventsReplayed       *prometheus.CounterVec
	eventsCommitted      *prometheus.CounterVec
	snapshotsCommitted   *prometheus.CounterVec
	commitDuration       *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	idempotentSkips      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		eventsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_es_events_replayed_total",
			Help: "Total number of events and snapshots applied during replay",
		}, []string{"aggregate_type"}),

		eventsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_es_events_committed_total",
			Help: "Total number of events committed",
		}, []string{"aggregate_type"}),

		snapshotsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_es_snapshots_committed_total",
			Help: "Total number of snapshots committed",
		}, []string{"aggregate_type"}),

		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "account_es_commit_duration_seconds",
			Help:    "Event store commit latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_es_concurrency_conflicts_total",
			Help: "Total number of commits rejected because another writer got there first",
		}, []string{"aggregate_type"}),

		idempotentSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_es_idempotent_skips_total",
			Help: "Total number of operations skipped because their transaction was already committed",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.eventsReplayed,
		m.eventsCommitted,
		m.snapshotsCommitted,
		m.commitDuration,
		m.concurrencyConflicts,
		m.idempotentSkips,
	)

	return m
}

func (m *Prometheus) EventsReplayed(aggType string, count int) {
	m.eventsReplayed.WithLabelValues(aggType).Add(float64(count))
}

func (m *Prometheus) EventsCommitted(aggType string, events, snapshots int) {
	m.eventsCommitted.WithLabelValues(aggType).Add(float64(events))
	m.snapshotsCommitted.WithLabelValues(aggType).Add(float64(snapshots))
}

func (m *Prometheus) CommitDuration(aggType string, d time.Duration) {
	m.commitDuration.WithLabelValues(aggType).Observe(d.Seconds())
}

func (m *Prometheus) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *Prometheus) IdempotentSkip(aggType string) {
	m.idempotentSkips.WithLabelValues(aggType).Inc()
}

var _ eventsourcing.Metrics = (*Prometheus)(nil)
