// Package retry implements the bounded-deadline retry manager shared by
// every ServiceFacade variant: repeat an operation, backing off linearly
// or exponentially, until it succeeds, the deadline elapses, or the
// caller's context is cancelled.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Mode selects the backoff shape between attempts.
type Mode int

const (
	// Linear sleeps BaseInterval between every attempt.
	Linear Mode = iota
	// Exponential sleeps BaseInterval*2^attempt, capped at the time
	// remaining before the deadline.
	Exponential
)

// Manager executes an operation repeatedly under a deadline and backoff
// policy. The zero value is not usable; construct with New.
type Manager struct {
	baseInterval time.Duration
	mode         Mode
	// raiseOnTimeout, when true, makes Invoke return ErrTimeout instead of
	// the last (possibly zero) result once the deadline elapses.
	raiseOnTimeout bool
}

// New constructs a Manager. baseInterval is the linear sleep, or the
// first exponential sleep, between attempts.
func New(baseInterval time.Duration, mode Mode, raiseOnTimeout bool) *Manager {
	return &Manager{baseInterval: baseInterval, mode: mode, raiseOnTimeout: raiseOnTimeout}
}

// ErrTimeout is returned by Invoke when raiseOnTimeout is set and the
// deadline elapses without a successful attempt.
type ErrTimeout struct{}

func (ErrTimeout) Error() string { return "retry: deadline elapsed before operation succeeded" }

// Operation is retried by Invoke until it returns ok=true, an error, or
// the deadline elapses.
type Operation[T any] func(attempt int) (result T, ok bool, err error)

// OnException, when supplied to Invoke, is called with any error Operation
// returns; if it returns false, Invoke stops retrying and returns that
// error immediately. If OnException is nil, any error from Operation is
// returned immediately (no further retries).
type OnException func(err error) (keepRetrying bool)

// Invoke runs op repeatedly until it signals ok=true, returns an error not
// absorbed by onException, or deadline elapses. It returns the last
// result produced by op (even if op never returned ok=true) together with
// a bool indicating whether op ever succeeded.
func Invoke[T any](ctx context.Context, m *Manager, deadline time.Time, op Operation[T], onException OnException) (result T, succeeded bool, err error) {
	bo := m.newBackOff(deadline)
	attempt := 0

	for {
		res, ok, opErr := op(attempt)
		if opErr != nil {
			keepRetrying := onException != nil && onException(opErr)
			if !keepRetrying {
				return res, false, opErr
			}
		} else if ok {
			return res, true, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			if m.raiseOnTimeout {
				return res, false, ErrTimeout{}
			}
			return res, false, nil
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if m.raiseOnTimeout {
				return res, false, ErrTimeout{}
			}
			return res, false, nil
		}
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}

		if !sleepQuietly(ctx, wait) {
			return res, false, nil
		}
		attempt++
	}
}

// newBackOff builds the cenkalti/backoff interval generator matching the
// manager's Mode; Invoke clamps each interval to the deadline.
func (m *Manager) newBackOff(deadline time.Time) backoff.BackOff {
	var b backoff.BackOff
	switch m.mode {
	case Linear:
		b = backoff.NewConstantBackOff(m.baseInterval)
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = m.baseInterval
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0 // this Manager enforces the deadline itself
		eb.Reset()
		b = eb
	}
	return backoff.WithMaxRetries(b, 1<<20)
}

// sleepQuietly blocks for d or until ctx is cancelled, returning false on
// cancellation without raising. This is the "quiet" primitive of §4.6 and
// §5: stop() must be able to interrupt a pending backoff sleep within one
// round-trip.
func sleepQuietly(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
