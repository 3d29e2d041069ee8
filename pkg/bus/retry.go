package bus

import (
	"context"
	"fmt"
	"time"
)

// Clock is the time source for retries and supervision.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Backoff is an exponential delay schedule with an attempt limit.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff is used for re-registration: 5 attempts, 500ms doubling,
// capped at 8s.
var DefaultBackoff = Backoff{
	Initial:     500 * time.Millisecond,
	Max:         8 * time.Second,
	Multiplier:  2,
	MaxAttempts: 5,
}

// Delay returns the wait after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Schedule lists every wait Retry may perform, in order.
func (b Backoff) Schedule() []time.Duration {
	attempts := b.attempts()
	delays := make([]time.Duration, 0, attempts-1)
	for i := 0; i < attempts-1; i++ {
		delays = append(delays, b.Delay(i))
	}
	return delays
}

func (b Backoff) attempts() int {
	if b.MaxAttempts < 1 {
		return 1
	}
	return b.MaxAttempts
}

// Retry runs fn until it succeeds, returns an error that is not a channel
// failure, or the attempt limit is reached. attempt is zero-based.
func Retry(ctx context.Context, clock Clock, b Backoff, fn func(ctx context.Context, attempt int) error) error {
	if clock == nil {
		clock = RealClock{}
	}
	attempts := b.attempts()

	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsChannelFailure(err) {
			return err
		}
		if attempt+1 >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		select {
		case <-clock.After(b.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendWithRetry sends msg through whatever port current returns, retrying
// channel failures on the backoff schedule. current is consulted on every
// attempt so a supervisor can swap in a fresh registration between tries.
func SendWithRetry(ctx context.Context, clock Clock, b Backoff, current func() *Port, to Endpoint, msg Message) (Response, error) {
	var resp Response
	err := Retry(ctx, clock, b, func(ctx context.Context, _ int) error {
		port := current()
		if port == nil {
			return fmt.Errorf("send %s: no port: %w", msg.Action(), ErrContextInvalid)
		}
		r, err := port.Send(ctx, to, msg)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}
