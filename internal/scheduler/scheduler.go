// Package scheduler turns start-then-poll cloud operations into bounded,
// retried waits.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy controls the growth of wait intervals.
type Policy struct {
	Multiplier float64
	Max        time.Duration
	// Jitter is the fraction of each interval added at random, e.g. 0.2.
	Jitter float64
}

// DefaultPolicy doubles intervals up to one minute with 20% jitter.
var DefaultPolicy = Policy{Multiplier: 2, Max: time.Minute, Jitter: 0.2}

// Interval returns the delay before retry number attempt (0-based) starting
// from base. The result never exceeds Max.
func (p Policy) Interval(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	interval := time.Duration(d)
	if p.Jitter > 0 {
		interval = calculateJitteredInterval(interval, time.Duration(float64(interval)*p.Jitter))
	}
	if p.Max > 0 && interval > p.Max {
		interval = p.Max
	}
	return interval
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	randomJitter := time.Duration(rand.Int63n(jitter.Nanoseconds()))
	return baseInterval + randomJitter
}

// Outcome is how a wait ended.
type Outcome int

const (
	OutcomeTerminal Outcome = iota
	OutcomeTimeout
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTerminal:
		return "terminal"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result describes a finished wait.
type Result struct {
	Outcome Outcome
	Checks  int
	Waited  time.Duration
}

// CheckFunc reports whether the awaited operation reached a terminal status.
type CheckFunc func(ctx context.Context) bool

// Scheduler runs bounded waits and retry loops against an injectable clock.
type Scheduler struct {
	clock  clockwork.Clock
	policy Policy
	logger *slog.Logger
}

// New builds a Scheduler. A nil clock means the real clock.
func New(clock clockwork.Clock, policy Policy, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		policy: policy,
		logger: logger.With("component", "scheduler"),
	}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Policy returns the interval policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Sleep blocks for d or until ctx ends.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// WaitUntil calls check until it reports a terminal status, maxWait elapses
// or ctx ends. Intervals start at base and grow per the policy; no sleep
// extends past maxWait.
func (s *Scheduler) WaitUntil(ctx context.Context, check CheckFunc, maxWait, base time.Duration) Result {
	start := s.clock.Now()
	deadline := start.Add(maxWait)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Checks: attempt, Waited: s.clock.Since(start)}
		}
		if check(ctx) {
			return Result{Outcome: OutcomeTerminal, Checks: attempt + 1, Waited: s.clock.Since(start)}
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return Result{Outcome: OutcomeTimeout, Checks: attempt + 1, Waited: s.clock.Since(start)}
		}
		delay := s.policy.Interval(base, attempt)
		if delay > remaining {
			delay = remaining
		}
		s.logger.Debug("waiting before next check", "attempt", attempt+1, "delay", delay)
		if err := s.Sleep(ctx, delay); err != nil {
			return Result{Outcome: OutcomeCancelled, Checks: attempt + 1, Waited: s.clock.Since(start)}
		}
	}
}

// Retry calls op until it reports no retry is needed, maxAttempts calls have
// been made or ctx ends. op receives the 1-based attempt number. It returns
// the last value and the number of calls made.
func Retry[T any](ctx context.Context, s *Scheduler, maxAttempts int, base time.Duration, op func(ctx context.Context, attempt int) (T, bool)) (T, int) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last T
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var retry bool
		last, retry = op(ctx, attempt)
		if !retry || attempt == maxAttempts {
			return last, attempt
		}
		if err := s.Sleep(ctx, s.policy.Interval(base, attempt-1)); err != nil {
			return last, attempt
		}
	}
	return last, maxAttempts
}
