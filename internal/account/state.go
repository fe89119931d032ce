package account

import "github.com/google/uuid"

// State is everything an account knows about itself.
type State struct {
	OwnerID uuid.UUID
	Balance int64
	Open    bool
}

// Fold returns the state after applying e to s.
func Fold(s State, e Event) State {
	switch ev := e.(type) {
	case Opened:
		s.OwnerID = ev.OwnerID
		s.Open = true
	case Deposited:
		s.Balance = ev.Balance
	case Withdrawn:
		s.Balance = ev.Balance
	case Closed:
		s.Open = false
	case Snapshot:
		s = State{OwnerID: ev.OwnerID, Balance: ev.Balance, Open: ev.Open}
	}
	return s
}

// FoldAll folds events left to right over the zero State.
func FoldAll(events []Event) State {
	var s State
	for _, e := range events {
		s = Fold(s, e)
	}
	return s
}
