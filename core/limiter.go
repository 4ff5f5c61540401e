package core

import (
	"fmt"
	"sync"
)

// CallBudget caps the number of outbound model calls a single orchestration
// run may make (router delegate, every dispatch attempt, synthesis).
type CallBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallBudget creates a new budget with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Spend consumes one call and returns ErrCallBudgetExceeded once the limit is exceeded.
// A nil budget is unlimited.
func (b *CallBudget) Spend() error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("%w: max %d", ErrCallBudgetExceeded, b.max)
	}

	return nil
}

// Count returns the current number of calls made.
func (b *CallBudget) Count() int {
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left before hitting the limit.
func (b *CallBudget) Remaining() int {
	if b == nil {
		return -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
