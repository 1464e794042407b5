package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget is the wall-clock allowance of one invocation. Reserve is held back
// for the cleanup pass and is never handed out to workflow steps.
type Budget struct {
	clock    clockwork.Clock
	deadline time.Time
	reserve  time.Duration
}

// NewBudget returns a budget ending at deadline.
func NewBudget(clock clockwork.Clock, deadline time.Time, reserve time.Duration) *Budget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Budget{clock: clock, deadline: deadline, reserve: reserve}
}

// BudgetFor derives the budget from ctx's deadline and a configured maximum,
// whichever ends first. A zero limit and no ctx deadline yields an unbounded
// budget of 24 hours.
func BudgetFor(ctx context.Context, clock clockwork.Clock, limit, reserve time.Duration) *Budget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now()
	deadline := now.Add(24 * time.Hour)
	if limit > 0 {
		deadline = now.Add(limit)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return NewBudget(clock, deadline, reserve)
}

// Deadline is when the invocation must be done.
func (b *Budget) Deadline() time.Time { return b.deadline }

// Reserve is the time held back for cleanup.
func (b *Budget) Reserve() time.Duration { return b.reserve }

// Remaining is the time left until the deadline.
func (b *Budget) Remaining() time.Duration {
	r := b.deadline.Sub(b.clock.Now())
	if r < 0 {
		return 0
	}
	return r
}

// Usable is the time left for workflow steps once the reserve is held back.
func (b *Budget) Usable() time.Duration {
	u := b.Remaining() - b.reserve
	if u < 0 {
		return 0
	}
	return u
}

// CanStart reports whether a step needing at least minStep may begin.
func (b *Budget) CanStart(minStep time.Duration) bool {
	if b.Remaining() < b.reserve {
		return false
	}
	return b.Usable() >= minStep
}

// StepWait caps a step's configured maximum wait to the usable budget.
func (b *Budget) StepWait(maxWait time.Duration) time.Duration {
	if u := b.Usable(); u < maxWait {
		return u
	}
	return maxWait
}

// CleanupContext returns a context detached from parent's cancellation and
// bounded by the reserve (or the remaining time, if larger).
func (b *Budget) CleanupContext(parent context.Context) (context.Context, context.CancelFunc) {
	limit := b.reserve
	if r := b.Remaining(); r > limit {
		limit = r
	}
	if limit <= 0 {
		limit = time.Second
	}
	return context.WithTimeout(context.WithoutCancel(parent), limit)
}
