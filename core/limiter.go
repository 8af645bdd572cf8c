package core

import (
	"fmt"
	"sync"
)

// TurnLimiter enforces the model-call budget of a single turn. The counter
// increments on every entry into the model-call state, so a turn that keeps
// requesting tools is forced to terminate once the budget is spent.
type TurnLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewTurnLimiter creates a limiter allowing at most max model calls.
// If max == 0, unlimited calls are allowed.
func NewTurnLimiter(max int) *TurnLimiter {
	return &TurnLimiter{max: max}
}

// Increment increases the call counter and returns an error once the budget
// is exceeded.
func (tl *TurnLimiter) Increment() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.count++
	if tl.max > 0 && tl.count > tl.max {
		return fmt.Errorf("exceeded max model calls per turn: %d", tl.max)
	}

	return nil
}

// Count returns the current number of calls made.
func (tl *TurnLimiter) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	return tl.count
}

// Remaining returns how many calls are left before hitting the limit.
func (tl *TurnLimiter) Remaining() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max == 0 {
		return -1 // unlimited
	}

	return tl.max - tl.count
}
