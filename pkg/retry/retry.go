// Package retry runs startup steps with exponential backoff. Errors
// classified as invalid or fatal stop the loop at once; everything else is
// retried until the attempts or the context run out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	pkgerrors "github.com/c360/specgate/errors"
)

// Policy bounds a retry loop
type Policy struct {
	Attempts   int           // 0 or less runs fn once
	Initial    time.Duration // first delay, 100ms when zero
	Max        time.Duration // delay cap, 5s when zero
	Multiplier float64       // 2 when zero
	Jitter     bool          // adds up to 25% to each delay
}

// Startup is the policy the binaries use for their first NATS connection
func Startup() Policy {
	return Policy{
		Attempts:   8,
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

func (p Policy) normalized() (Policy, error) {
	if p.Initial < 0 || p.Max < 0 || p.Multiplier < 0 {
		return p, errors.New("negative retry policy value")
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial == 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max == 0 {
		p.Max = 5 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2
	}
	if p.Max < p.Initial {
		return p, errors.New("max delay below initial delay")
	}
	return p, nil
}

// delay returns the sleep following attempt n (1 based)
func (p Policy) delay(n int) time.Duration {
	d := float64(p.Initial)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	out := time.Duration(d)
	if p.Jitter && out >= 4 {
		out += time.Duration(rand.Int64N(int64(out / 4)))
	}
	return out
}

// Permanent reports whether err must not be retried
func Permanent(err error) bool {
	return pkgerrors.IsInvalid(err) || pkgerrors.IsFatal(err)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// spent or ctx is done. A permanent error is returned as is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p, err := p.normalized()
	if err != nil {
		return pkgerrors.WrapInvalid(err, "retry", "Do", "validate policy")
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if last = fn(ctx); last == nil {
			return nil
		}
		if Permanent(last) {
			return last
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return pkgerrors.WrapTransient(ctx.Err(), "retry", "Do", fmt.Sprintf("wait for attempt %d", attempt+1))
		case <-timer.C:
		}
	}

	return pkgerrors.WrapTransient(last, "retry", "Do", fmt.Sprintf("%d attempts", p.Attempts))
}
