package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock, in UTC.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock that always returns the same time.
type Fixed struct {
	T time.Time
}

// Now returns the fixed time.
func (f Fixed) Now() time.Time { return f.T }

// Stepping is a Clock that starts at a given time and moves forward by Step
// on every call. It is safe for concurrent use.
type Stepping struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepping returns a Stepping clock whose first reading is start.
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{next: start, step: step}
}

// Now returns the current reading and advances the clock.
func (s *Stepping) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next = s.next.Add(s.step)
	return t
}
