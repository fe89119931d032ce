package account

import "github.com/google/uuid"

// Type discriminates event variants in serialized form. Values are stored,
// so existing ones must never be renumbered.
type Type int

const (
	TypeOpened    Type = 1
	TypeDeposited Type = 2
	TypeWithdrawn Type = 3
	TypeClosed    Type = 4
	TypeSnapshot  Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeOpened:
		return "AccountOpened"
	case TypeDeposited:
		return "MoneyDeposited"
	case TypeWithdrawn:
		return "MoneyWithdrawn"
	case TypeClosed:
		return "AccountClosed"
	case TypeSnapshot:
		return "AccountSnapshot"
	default:
		return "Unknown"
	}
}

// Event is one of Opened, Deposited, Withdrawn, Closed or Snapshot.
type Event interface {
	Type() Type
	isEvent()
}

// Opened is recorded when an account gets its owner.
type Opened struct {
	OwnerID uuid.UUID `json:"owner_id"`
}

// Deposited carries the balance after the deposit so that replay never has
// to add up history.
type Deposited struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}

// Withdrawn carries the balance after the withdrawal.
type Withdrawn struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}

// Closed is recorded when an account with zero balance is closed.
type Closed struct{}

// Snapshot is the full state of an account. It doubles as the read model
// returned by Service.QueryAccount.
type Snapshot struct {
	AccountID uuid.UUID `json:"account_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Open      bool      `json:"open"`
}

func (Opened) Type() Type    { return TypeOpened }
func (Deposited) Type() Type { return TypeDeposited }
func (Withdrawn) Type() Type { return TypeWithdrawn }
func (Closed) Type() Type    { return TypeClosed }
func (Snapshot) Type() Type  { return TypeSnapshot }

func (Opened) isEvent()    {}
func (Deposited) isEvent() {}
func (Withdrawn) isEvent() {}
func (Closed) isEvent()    {}
func (Snapshot) isEvent()  {}
