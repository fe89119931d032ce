package account

import "errors"

// Validation errors. They are permanent and never retried.
var (
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotOpen      = errors.New("account not open")
	ErrBalanceOutstanding  = errors.New("balance outstanding")
	ErrAccountAlreadyOwned = errors.New("account already has an owner")
	ErrInvalidOwner        = errors.New("owner id must be set")
	ErrSameAccount         = errors.New("source and target account are the same")
	ErrBalanceOverflow     = errors.New("balance would overflow")
)

// ErrUnknownEvent is returned when an account is asked to apply something
// that is not an account event.
var ErrUnknownEvent = errors.New("unknown account event")
