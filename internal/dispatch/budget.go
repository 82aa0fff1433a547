package dispatch

import "time"

// BudgetDecision is the tri-state outcome of assessing remaining headroom
// against the configured tunables.
type BudgetDecision int

const (
	// BudgetFull means there is enough headroom for full policy work.
	BudgetFull BudgetDecision = iota
	// BudgetFastPath means the handler must take the cheapest safe action
	// and respond immediately.
	BudgetFastPath
	// BudgetExpired means the deadline has already passed.
	BudgetExpired
)

func (d BudgetDecision) String() string {
	switch d {
	case BudgetFull:
		return "full"
	case BudgetFastPath:
		return "fastpath"
	case BudgetExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DeadlineBudget decides, from a message deadline and the clock, whether
// expensive policy work may still be done. It is a pure function of its
// inputs so tests can drive it with synthetic deadlines.
type DeadlineBudget struct {
	// MinHeadroom is the least remaining time under which non-O(1) policy
	// work must be skipped in favor of the fast-path default.
	MinHeadroom time.Duration
	// MaxHeadroom caps the budget: once remaining time drops below it,
	// long side effects must be scheduled asynchronously, never inlined.
	MaxHeadroom time.Duration
}

// Assess returns the budget decision for a message due at deadline.
func (b DeadlineBudget) Assess(deadline, now time.Time) BudgetDecision {
	h := deadline.Sub(now)
	switch {
	case h <= 0:
		return BudgetExpired
	case h < b.MinHeadroom:
		return BudgetFastPath
	default:
		return BudgetFull
	}
}

// AllowInline reports whether a long side effect may run on the response
// path. Below MaxHeadroom it must be scheduled instead.
func (b DeadlineBudget) AllowInline(deadline, now time.Time) bool {
	return deadline.Sub(now) >= b.MaxHeadroom
}
