package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Factory builds an empty aggregate bound to the stream it records into.
type Factory[A Aggregate[E], E any] func(stream EventStream[E], aggregateID uuid.UUID) A

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	aggType string
	logger  *slog.Logger
	tp      trace.TracerProvider
	metrics Metrics
}

// WithAggregateType names the aggregate in logs, spans and metrics.
func WithAggregateType(name string) RepositoryOption {
	return func(o *repositoryOptions) { o.aggType = name }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(o *repositoryOptions) { o.logger = logger }
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) RepositoryOption {
	return func(o *repositoryOptions) { o.tp = tp }
}

// WithMetrics sets the metrics sink. Defaults to NopMetrics.
func WithMetrics(m Metrics) RepositoryOption {
	return func(o *repositoryOptions) { o.metrics = m }
}

// Repository runs business operations against event-sourced aggregates.
//
// Every operation works on its own stream and aggregate instances, so a
// Repository is safe for concurrent use. Conflicting writers are detected by
// the store at commit time; retrying is left to the caller.
type Repository[A Aggregate[E], E any] struct {
	store       EventStore[E]
	snapshotter Snapshotter[E]
	factory     Factory[A, E]

	aggType string
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewRepository returns a Repository over store.
func NewRepository[A Aggregate[E], E any](
	store EventStore[E],
	snapshotter Snapshotter[E],
	factory Factory[A, E],
	opts ...RepositoryOption,
) *Repository[A, E] {
	o := repositoryOptions{
		aggType: "aggregate",
		logger:  slog.Default(),
		tp:      noop.NewTracerProvider(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[A, E]{
		store:       store,
		snapshotter: snapshotter,
		factory:     factory,
		aggType:     o.aggType,
		logger:      o.logger.With(slog.String("aggregate_type", o.aggType)),
		tracer:      o.tp.Tracer("github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"),
		metrics:     o.metrics,
	}
}

// Create runs op against a brand new aggregate and commits the result.
// Creation does not replay; if the id already has history the commit fails
// with ErrConcurrentModification.
func (r *Repository[A, E]) Create(ctx context.Context, aggregateID, txID uuid.UUID, op func(A) error) error {
	ctx, span := r.tracer.Start(ctx, "Repository.Create",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("transaction.id", txID.String()),
		),
	)
	defer span.End()

	stream := NewTransactionalStream(r.store, r.snapshotter)
	aggregate := r.factory(stream, aggregateID)

	if err := op(aggregate); err != nil {
		return spanError(span, err)
	}
	return spanError(span, r.commit(ctx, stream, txID))
}

// Transact replays an aggregate and runs op against it, unless txID has
// already been committed for that aggregate.
//
// The replay happens before the transaction lookup. Checking first and
// loading afterwards could observe state older than the check.
func (r *Repository[A, E]) Transact(ctx context.Context, aggregateID, txID uuid.UUID, op func(A) error) error {
	ctx, span := r.tracer.Start(ctx, "Repository.Transact",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("transaction.id", txID.String()),
		),
	)
	defer span.End()

	stream := NewTransactionalStream(r.store, r.snapshotter)
	aggregate := r.factory(stream, aggregateID)
	if err := stream.Replay(ctx, aggregate, aggregateID); err != nil {
		return spanError(span, err)
	}
	r.metrics.EventsReplayed(r.aggType, stream.Replayed())

	known, err := r.transactionKnown(ctx, txID, aggregateID)
	if err != nil {
		return spanError(span, err)
	}
	if known {
		span.SetAttributes(attribute.Bool("idempotent_skip", true))
		return nil
	}

	if err := op(aggregate); err != nil {
		return spanError(span, err)
	}
	return spanError(span, r.commit(ctx, stream, txID))
}

// TransactPair replays two aggregates into one stream and runs op against
// both. Their new events are committed atomically. If either aggregate has
// already seen txID the operation is skipped. The two ids must differ.
func (r *Repository[A, E]) TransactPair(ctx context.Context, firstID, secondID, txID uuid.UUID, op func(first, second A) error) error {
	ctx, span := r.tracer.Start(ctx, "Repository.TransactPair",
		trace.WithAttributes(
			attribute.String("aggregate.id", firstID.String()),
			attribute.String("aggregate.second_id", secondID.String()),
			attribute.String("transaction.id", txID.String()),
		),
	)
	defer span.End()

	if firstID == secondID {
		return spanError(span, ErrSameAggregate)
	}

	stream := NewTransactionalStream(r.store, r.snapshotter)
	first := r.factory(stream, firstID)
	second := r.factory(stream, secondID)
	if err := stream.Replay(ctx, first, firstID); err != nil {
		return spanError(span, err)
	}
	if err := stream.Replay(ctx, second, secondID); err != nil {
		return spanError(span, err)
	}
	r.metrics.EventsReplayed(r.aggType, stream.Replayed())

	known, err := r.transactionKnown(ctx, txID, firstID, secondID)
	if err != nil {
		return spanError(span, err)
	}
	if known {
		span.SetAttributes(attribute.Bool("idempotent_skip", true))
		return nil
	}

	if err := op(first, second); err != nil {
		return spanError(span, err)
	}
	return spanError(span, r.commit(ctx, stream, txID))
}

// Query replays an aggregate through a read-only stream. Operations on the
// returned aggregate that try to record events fail with ErrReadOnlyStream.
func (r *Repository[A, E]) Query(ctx context.Context, aggregateID uuid.UUID) (A, error) {
	ctx, span := r.tracer.Start(ctx, "Repository.Query",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	stream := NewReplayingStream(r.store)
	aggregate := r.factory(stream, aggregateID)
	if err := stream.Replay(ctx, aggregate, aggregateID); err != nil {
		var zero A
		return zero, spanError(span, err)
	}
	r.metrics.EventsReplayed(r.aggType, stream.Replayed())
	return aggregate, nil
}

// Events returns the full committed event log of an aggregate.
func (r *Repository[A, E]) Events(ctx context.Context, aggregateID uuid.UUID) ([]SequencedEvent[E], error) {
	ctx, span := r.tracer.Start(ctx, "Repository.Events",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	events, err := r.store.Events(ctx, aggregateID, 0)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("loading events of %s: %w", aggregateID, err))
	}
	return events, nil
}

func (r *Repository[A, E]) transactionKnown(ctx context.Context, txID uuid.UUID, aggregateIDs ...uuid.UUID) (bool, error) {
	for _, id := range aggregateIDs {
		exists, err := r.store.TransactionExists(ctx, id, txID)
		if err != nil {
			return false, fmt.Errorf("checking transaction %s of %s: %w", txID, id, err)
		}
		if exists {
			r.metrics.IdempotentSkip(r.aggType)
			r.logger.DebugContext(ctx, "transaction already committed",
				slog.String("aggregate_id", id.String()),
				slog.String("transaction_id", txID.String()),
			)
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository[A, E]) commit(ctx context.Context, stream *TransactionalStream[E], txID uuid.UUID) error {
	events, snapshots := stream.Staged()
	start := time.Now()

	err := stream.Commit(ctx, txID)
	r.metrics.CommitDuration(r.aggType, time.Since(start))

	switch {
	case errors.Is(err, ErrConcurrentModification):
		r.metrics.ConcurrencyConflict(r.aggType)
		r.logger.DebugContext(ctx, "commit conflict", slog.String("transaction_id", txID.String()))
		return err
	case err != nil:
		return fmt.Errorf("committing transaction %s: %w", txID, err)
	}

	if events > 0 {
		r.metrics.EventsCommitted(r.aggType, events, snapshots)
		r.logger.DebugContext(ctx, "committed",
			slog.String("transaction_id", txID.String()),
			slog.Int("events", events),
			slog.Int("snapshots", snapshots),
		)
	}
	return nil
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
