package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/rtmix/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClockMonotonic(t *testing.T) {
	c := clock.New()
	prev := c.Micros()
	for i := 0; i < 1000; i++ {
		now := c.Micros()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
	assert.Equal(t, c.Wall(0).Add(time.Millisecond), c.Wall(1000))
}

func TestWaiterInvalidInterval(t *testing.T) {
	_, err := clock.NewWaiter(clock.New(), 0)
	assert.ErrorIs(t, err, clock.ErrInvalidInterval)
}

func TestWaiterCadence(t *testing.T) {
	const (
		interval = 2 * time.Millisecond
		n        = 25
	)
	c := clock.New()
	w, err := clock.NewWaiter(c, interval)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < n; i++ {
		_, err := w.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), n*interval)
}

func TestWaiterOverrun(t *testing.T) {
	const interval = 5 * time.Millisecond
	logger, hook := test.NewNullLogger()
	var hooked []int
	w, err := clock.NewWaiter(clock.New(), interval,
		clock.WithLogger(logger),
		clock.WithName("audio"),
		clock.WithOverrunHook(func(n int) { hooked = append(hooked, n) }),
	)
	require.NoError(t, err)

	overrun, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, overrun)

	time.Sleep(3*interval + interval/2)
	overrun, err = w.Wait(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, overrun, 3)
	assert.Equal(t, []int{overrun}, hooked)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "audio", entry.Data["cadence"])
}

func TestWaiterBurstsWithoutResync(t *testing.T) {
	const interval = 5 * time.Millisecond
	logger, _ := test.NewNullLogger()
	w, err := clock.NewWaiter(clock.New(), interval, clock.WithLogger(logger))
	require.NoError(t, err)

	_, err = w.Wait(context.Background())
	require.NoError(t, err)
	time.Sleep(4 * interval)
	first, err := w.Wait(context.Background())
	require.NoError(t, err)
	require.Greater(t, first, 1)

	// the cursor stays behind, so the next call is late as well
	next, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Greater(t, next, 0)
}

func TestWaiterResync(t *testing.T) {
	const interval = 10 * time.Millisecond
	logger, _ := test.NewNullLogger()
	w, err := clock.NewWaiter(clock.New(), interval,
		clock.WithLogger(logger),
		clock.WithResync(1),
	)
	require.NoError(t, err)

	_, err = w.Wait(context.Background())
	require.NoError(t, err)
	time.Sleep(4*interval + interval/2)
	overrun, err := w.Wait(context.Background())
	require.NoError(t, err)
	require.Greater(t, overrun, 1)

	// realigned to the grid: the following call waits again
	overrun, err = w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, overrun)
}

func TestWaiterCancel(t *testing.T) {
	w, err := clock.NewWaiter(clock.New(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err = w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaiterSpin(t *testing.T) {
	const interval = 2 * time.Millisecond
	w, err := clock.NewWaiter(clock.New(), interval, clock.WithSpin(interval))
	require.NoError(t, err)
	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := w.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 5*interval)
}
