package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

const (
	// DefaultMaxAttempts bounds how often a conflicting operation is run.
	DefaultMaxAttempts = 3
	// DefaultRetryInterval is the first pause between attempts.
	DefaultRetryInterval = 5 * time.Millisecond
)

// EventRecord is one entry of an account's event log.
type EventRecord struct {
	SequenceNumber int64     `json:"sequence_number"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	EventType      string    `json:"event_type"`
	Event          Event     `json:"event"`
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets how many times an operation is attempted when it loses a
// commit race, and the initial pause between attempts.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(s *Service) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		s.maxAttempts = maxAttempts
		s.retryInterval = initialInterval
	}
}

// WithMetrics passes m to the underlying repository.
func WithMetrics(m eventsourcing.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is the entry point for account operations.
//
// Operations that lose a commit race are replayed and retried a bounded
// number of times. Validation errors and ErrAggregateNotFound are returned
// immediately.
type Service struct {
	repo   *eventsourcing.Repository[*Account, Event]
	logger *slog.Logger
	tracer trace.Tracer

	metrics       eventsourcing.Metrics
	maxAttempts   int
	retryInterval time.Duration
}

// NewService returns a Service storing account events in store.
func NewService(store eventsourcing.EventStore[Event], snapshotter eventsourcing.Snapshotter[Event], logger *slog.Logger, tp trace.TracerProvider, opts ...Option) *Service {
	s := &Service{
		logger:        logger,
		tracer:        tp.Tracer("github.com/jensholdgaard/event-sourced-account/internal/account"),
		metrics:       eventsourcing.NopMetrics(),
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.repo = eventsourcing.NewRepository[*Account, Event](store, snapshotter, New,
		eventsourcing.WithAggregateType("account"),
		eventsourcing.WithLogger(logger),
		eventsourcing.WithTracerProvider(tp),
		eventsourcing.WithMetrics(s.metrics),
	)
	return s
}

// OpenAccount creates an account owned by ownerID. It is not retried: a
// conflict means the account id is already taken.
func (s *Service) OpenAccount(ctx context.Context, accountID, ownerID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "Service.OpenAccount",
		trace.WithAttributes(
			attribute.String("account_id", accountID.String()),
			attribute.String("owner_id", ownerID.String()),
		),
	)
	defer span.End()

	err := s.repo.Create(ctx, accountID, uuid.New(), func(a *Account) error {
		return a.Open(ownerID)
	})
	if err != nil {
		return fmt.Errorf("opening account %s: %w", accountID, err)
	}

	s.logger.InfoContext(ctx, "account opened",
		slog.String("account_id", accountID.String()),
		slog.String("owner_id", ownerID.String()),
	)
	return nil
}

// Deposit adds amount to an account. Repeating a call with the same txID is
// a no-op.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, txID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "Service.Deposit",
		trace.WithAttributes(
			attribute.String("account_id", accountID.String()),
			attribute.Int64("amount", amount),
			attribute.String("transaction_id", txID.String()),
		),
	)
	defer span.End()

	err := s.retry(ctx, func() error {
		return s.repo.Transact(ctx, accountID, txID, func(a *Account) error {
			return a.Deposit(amount)
		})
	})
	if err != nil {
		return fmt.Errorf("depositing to %s: %w", accountID, err)
	}

	s.logger.InfoContext(ctx, "money deposited",
		slog.String("account_id", accountID.String()),
		slog.Int64("amount", amount),
		slog.String("transaction_id", txID.String()),
	)
	return nil
}

// Withdraw takes amount from an account. Repeating a call with the same txID
// is a no-op.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, txID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "Service.Withdraw",
		trace.WithAttributes(
			attribute.String("account_id", accountID.String()),
			attribute.Int64("amount", amount),
			attribute.String("transaction_id", txID.String()),
		),
	)
	defer span.End()

	err := s.retry(ctx, func() error {
		return s.repo.Transact(ctx, accountID, txID, func(a *Account) error {
			return a.Withdraw(amount)
		})
	})
	if err != nil {
		return fmt.Errorf("withdrawing from %s: %w", accountID, err)
	}

	s.logger.InfoContext(ctx, "money withdrawn",
		slog.String("account_id", accountID.String()),
		slog.Int64("amount", amount),
		slog.String("transaction_id", txID.String()),
	)
	return nil
}

// Transfer moves amount between two accounts in one atomic commit.
func (s *Service) Transfer(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, txID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "Service.Transfer",
		trace.WithAttributes(
			attribute.String("source_id", sourceID.String()),
			attribute.String("target_id", targetID.String()),
			attribute.Int64("amount", amount),
			attribute.String("transaction_id", txID.String()),
		),
	)
	defer span.End()

	if sourceID == targetID {
		return fmt.Errorf("transferring from %s: %w", sourceID, ErrSameAccount)
	}

	err := s.retry(ctx, func() error {
		return s.repo.TransactPair(ctx, sourceID, targetID, txID, func(source, target *Account) error {
			return Transfer(source, target, amount)
		})
	})
	if err != nil {
		return fmt.Errorf("transferring from %s to %s: %w", sourceID, targetID, err)
	}

	s.logger.InfoContext(ctx, "money transferred",
		slog.String("source_id", sourceID.String()),
		slog.String("target_id", targetID.String()),
		slog.Int64("amount", amount),
		slog.String("transaction_id", txID.String()),
	)
	return nil
}

// CloseAccount closes an account with zero balance.
func (s *Service) CloseAccount(ctx context.Context, accountID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "Service.CloseAccount",
		trace.WithAttributes(attribute.String("account_id", accountID.String())),
	)
	defer span.End()

	txID := uuid.New()
	err := s.retry(ctx, func() error {
		return s.repo.Transact(ctx, accountID, txID, func(a *Account) error {
			return a.Close()
		})
	})
	if err != nil {
		return fmt.Errorf("closing account %s: %w", accountID, err)
	}

	s.logger.InfoContext(ctx, "account closed", slog.String("account_id", accountID.String()))
	return nil
}

// QueryAccount returns the current state of an account.
func (s *Service) QueryAccount(ctx context.Context, accountID uuid.UUID) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Service.QueryAccount",
		trace.WithAttributes(attribute.String("account_id", accountID.String())),
	)
	defer span.End()

	a, err := s.repo.Query(ctx, accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying account %s: %w", accountID, err)
	}
	return a.Snapshot().(Snapshot), nil
}

// Events returns the event log of an account in sequence order. Unknown
// accounts have an empty log.
func (s *Service) Events(ctx context.Context, accountID uuid.UUID) ([]EventRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Events",
		trace.WithAttributes(attribute.String("account_id", accountID.String())),
	)
	defer span.End()

	events, err := s.repo.Events(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("reading events of %s: %w", accountID, err)
	}

	records := make([]EventRecord, len(events))
	for i, e := range events {
		records[i] = EventRecord{
			SequenceNumber: e.SequenceNumber,
			TransactionID:  e.TransactionID,
			EventType:      e.Payload.Type().String(),
			Event:          e.Payload,
		}
	}
	return records, nil
}

// retry runs op until it succeeds, fails with anything other than a
// concurrent modification, or runs out of attempts.
func (s *Service) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInterval
	eb.MaxInterval = 16 * s.retryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, eventsourcing.ErrConcurrentModification):
			s.logger.DebugContext(ctx, "concurrent modification, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", s.maxAttempts),
			)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, b)
}
