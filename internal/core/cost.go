package core

import (
	"fmt"
	"sync"
)

// CostTracker enforces a soft cooperative budget across the analysis calls
// of one session. Workers reserve the per-item estimate before each call
// and commit the actual cost afterward.
type CostTracker struct {
	mu       sync.Mutex
	budget   float64
	spent    float64
	reserved float64
}

// NewCostTracker creates a tracker seeded with the session's remaining
// budget.
func NewCostTracker(budget float64) *CostTracker {
	if budget < 0 {
		budget = 0
	}
	return &CostTracker{budget: budget}
}

// Reserve claims estimate against the budget before an analysis call.
// It fails when the reservation would push spend past the budget; the
// caller records the item as failed rather than making the call.
func (t *CostTracker) Reserve(estimate float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spent+t.reserved+estimate > t.budget {
		return &PipelineError{
			Code: ErrCodeBudgetExceeded,
			Message: fmt.Sprintf("Session budget exhausted: spent $%.4f of $%.4f.",
				t.spent, t.budget),
			Details: map[string]any{
				"spent":    t.spent,
				"budget":   t.budget,
				"estimate": estimate,
			},
		}
	}
	t.reserved += estimate
	return nil
}

// Commit replaces a reservation with the actual cost of the call.
func (t *CostTracker) Commit(estimate, actual float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved -= estimate
	if t.reserved < 0 {
		t.reserved = 0
	}
	t.spent += actual
}

// Release drops a reservation after a failed call that incurred no cost.
func (t *CostTracker) Release(estimate float64) {
	t.Commit(estimate, 0)
}

// Spent returns the committed spend so far.
func (t *CostTracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Remaining returns the budget not yet spent or reserved.
func (t *CostTracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.budget - t.spent - t.reserved
	if r < 0 {
		return 0
	}
	return r
}
