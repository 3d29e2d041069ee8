package bus_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/bus"
	"github.com/entrhq/cropchat/pkg/bus/bustest"
)

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
	}, bus.DefaultBackoff.Schedule())

	capped := bus.Backoff{Initial: time.Second, Max: 3 * time.Second, Multiplier: 2, MaxAttempts: 5}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, capped.Schedule())

	assert.Empty(t, bus.Backoff{Initial: time.Second}.Schedule())
}

// runRetry runs Retry in the background and advances the fake clock whenever
// it is waiting, until Retry returns.
func runRetry(t *testing.T, clock *bustest.FakeClock, b bus.Backoff, fn func(context.Context, int) error) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- bus.Retry(context.Background(), clock, b, fn)
	}()

	for {
		select {
		case err := <-done:
			return err
		case <-time.After(time.Millisecond):
			if clock.Waiters() > 0 {
				clock.Advance(time.Minute)
			}
		}
	}
}

func TestRetryRecoversFromChannelFailures(t *testing.T) {
	clock := bustest.NewFakeClock()
	calls := 0

	err := runRetry(t, clock, bus.DefaultBackoff, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return fmt.Errorf("send: %w", bus.ErrPortClosed)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.Waits())
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	clock := bustest.NewFakeClock()
	calls := 0

	err := runRetry(t, clock, bus.DefaultBackoff, func(context.Context, int) error {
		calls++
		return bus.ErrContextInvalid
	})

	assert.ErrorIs(t, err, bus.ErrContextInvalid)
	assert.Contains(t, err.Error(), "gave up after 5 attempts")
	assert.Equal(t, 5, calls)
	assert.Equal(t, bus.DefaultBackoff.Schedule(), clock.Waits())
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	clock := bustest.NewFakeClock()
	boom := errors.New("invalid api key")
	calls := 0

	err := bus.Retry(context.Background(), clock, bus.DefaultBackoff, func(context.Context, int) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.Waits())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	clock := bustest.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	err := bus.Retry(ctx, clock, bus.DefaultBackoff, func(context.Context, int) error {
		cancel()
		return bus.ErrTimeout
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendWithRetryPicksUpFreshPort(t *testing.T) {
	b := bus.New()
	_, err := b.Register(bus.Background, answerPing{})
	require.NoError(t, err)

	stale, err := b.Register(bus.Popup, bus.NopHandler{})
	require.NoError(t, err)
	fresh, err := b.Register(bus.Popup, bus.NopHandler{})
	require.NoError(t, err)

	ports := []*bus.Port{stale, fresh}
	attempt := 0
	current := func() *bus.Port {
		p := ports[attempt]
		attempt++
		return p
	}

	clock := bustest.NewFakeClock()
	done := make(chan struct{})
	var resp bus.Response
	go func() {
		defer close(done)
		resp, err = bus.SendWithRetry(context.Background(), clock, bus.DefaultBackoff, current, bus.Background, bus.Ping{})
	}()

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	<-done

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, attempt)
}

type answerPing struct{ bus.NopHandler }

func (answerPing) HandlePing(context.Context, bus.Endpoint, bus.Ping) bus.Response {
	return bus.Response{Success: true, Status: "idle"}
}
