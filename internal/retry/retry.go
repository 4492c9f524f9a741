// Package retry implements the exponential backoff with additive jitter shared
// by provider invocations, durable writes and outbox replay.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
// The wait before retry n (n starting at 0) is Base*2^n + rand[0, Base).
type Policy struct {
	Attempts int           // total attempts, including the first
	Base     time.Duration // backoff unit
	Max      time.Duration // caps the exponential term; zero means uncapped

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default is the policy used when callers do not configure one.
var Default = Policy{Attempts: 3, Base: 200 * time.Millisecond, Max: 10 * time.Second}

// Floor returns the exponential term for retry n, without jitter.
func (p Policy) Floor(n int) time.Duration {
	if p.Base <= 0 || n < 0 {
		return 0
	}
	const maxDuration = time.Duration(1<<63 - 1)
	d := p.Base
	for i := 0; i < n; i++ {
		if d > maxDuration/2 {
			d = maxDuration
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Delay returns the wait before retry n, including jitter.
func (p Policy) Delay(n int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	floor := p.Floor(n)
	jitter := time.Duration(r() * float64(p.Base))
	if floor > time.Duration(1<<63-1)-jitter {
		return floor
	}
	return floor + jitter
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Stop wraps err so that Do returns it immediately without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a Stop error, the attempts are
// exhausted, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.Delay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt, err, wait)
			}
			if serr := Sleep(ctx, wait); serr != nil {
				return errors.Join(err, serr)
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var stop permanent
		if errors.As(err, &stop) {
			return stop.err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
