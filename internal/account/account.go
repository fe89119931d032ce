package account

import (
	"math"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
)

// Account is the aggregate. It only changes through events recorded on its
// stream, which applies them back through Apply.
type Account struct {
	id     uuid.UUID
	stream eventsourcing.EventStream[Event]
	state  State
}

// New returns an empty account bound to stream. It matches
// eventsourcing.Factory.
func New(stream eventsourcing.EventStream[Event], id uuid.UUID) *Account {
	return &Account{id: id, stream: stream}
}

// ID returns the account id.
func (a *Account) ID() uuid.UUID { return a.id }

// State returns a copy of the current state.
func (a *Account) State() State { return a.state }

// Apply folds e into the account.
func (a *Account) Apply(e Event) error {
	if e == nil {
		return ErrUnknownEvent
	}
	a.state = Fold(a.state, e)
	return nil
}

// Snapshot captures the full state of the account.
func (a *Account) Snapshot() Event {
	return Snapshot{
		AccountID: a.id,
		OwnerID:   a.state.OwnerID,
		Balance:   a.state.Balance,
		Open:      a.state.Open,
	}
}

// Open assigns the owner. An account is opened at most once.
func (a *Account) Open(ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return ErrInvalidOwner
	}
	if a.state.OwnerID != uuid.Nil {
		return ErrAccountAlreadyOwned
	}
	return a.record(Opened{OwnerID: ownerID})
}

// Deposit adds amount to the balance. Depositing zero records nothing.
func (a *Account) Deposit(amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if !a.state.Open {
		return ErrAccountNotOpen
	}
	if amount == 0 {
		return nil
	}
	if amount > math.MaxInt64-a.state.Balance {
		return ErrBalanceOverflow
	}
	return a.record(Deposited{Amount: amount, Balance: a.state.Balance + amount})
}

// Withdraw takes amount from the balance. Withdrawing zero records nothing.
func (a *Account) Withdraw(amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if !a.state.Open {
		return ErrAccountNotOpen
	}
	if amount > a.state.Balance {
		return ErrInsufficientBalance
	}
	if amount == 0 {
		return nil
	}
	return a.record(Withdrawn{Amount: amount, Balance: a.state.Balance - amount})
}

// Close closes an open account with zero balance.
func (a *Account) Close() error {
	if !a.state.Open {
		return ErrAccountNotOpen
	}
	if a.state.Balance != 0 {
		return ErrBalanceOutstanding
	}
	return a.record(Closed{})
}

// Transfer moves amount from source to target. Both accounts must be bound
// to the same transactional stream for the two events to commit together.
func Transfer(source, target *Account, amount int64) error {
	if source.id == target.id {
		return ErrSameAccount
	}
	if amount > 0 && target.state.Open && amount > math.MaxInt64-target.state.Balance {
		return ErrBalanceOverflow
	}
	if err := source.Withdraw(amount); err != nil {
		return err
	}
	return target.Deposit(amount)
}

func (a *Account) record(e Event) error {
	return a.stream.Append(e, a, a.id)
}

var _ eventsourcing.Aggregate[Event] = (*Account)(nil)
