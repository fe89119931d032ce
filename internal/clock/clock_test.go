package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
)

func TestReal_Now(t *testing.T) {
	clk := clock.Real{}
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real.Now() = %v, expected between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Real.Now() location = %v, want UTC", got.Location())
	}
}

func TestFixed_Now(t *testing.T) {
	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.Fixed{T: fixed}

	for range 2 {
		if got := clk.Now(); !got.Equal(fixed) {
			t.Errorf("Fixed.Now() = %v, want %v", got, fixed)
		}
	}
}

func TestStepping_Now(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewStepping(start, time.Second)

	for i := range 3 {
		want := start.Add(time.Duration(i) * time.Second)
		if got := clk.Now(); !got.Equal(want) {
			t.Errorf("reading %d = %v, want %v", i, got, want)
		}
	}
}

func TestStepping_Concurrent(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewStepping(start, time.Millisecond)

	const readers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := clk.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != readers {
		t.Errorf("distinct readings = %d, want %d", len(seen), readers)
	}
}
