package dispatch

import (
	"context"
	"sync"

	"github.com/mattjoyce/snapshot-exporter/internal/notification"
)

// Runner admits notifications synchronously and executes claimed jobs in the
// background. Jobs run on base, not on the submitting request's context.
type Runner struct {
	d    *Dispatcher
	base context.Context
	wg   sync.WaitGroup
}

// NewRunner creates a Runner whose jobs inherit base's values and cancellation.
func NewRunner(base context.Context, d *Dispatcher) *Runner {
	return &Runner{d: d, base: base}
}

// Submit admits n and starts its job, if any, in a goroutine.
func (r *Runner) Submit(ctx context.Context, n notification.LifecycleNotification) (Ticket, error) {
	ticket, j, err := r.d.Admit(ctx, n)
	if err != nil || j == nil {
		return ticket, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.d.Execute(r.base, j)
	}()
	return ticket, nil
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
