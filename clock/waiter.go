package clock

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidInterval is returned when waiter is created with non-positive
// interval.
var ErrInvalidInterval = errors.New("waiter interval must be positive")

// Waiter is a periodic rate-limiting gate. The deadline cursor is
// initialized at the first call to Wait and then advanced by exactly one
// interval per call, so the cadence never drifts.
//
// Waiter is not safe for concurrent use. Each cadence is owned by a single
// stage.
type Waiter struct {
	clock    *Clock
	interval time.Duration
	name     string
	resync   int
	spin     time.Duration
	log      logrus.FieldLogger
	onOver   func(int)

	started bool
	next    time.Duration // deadline as offset from the clock start
	timer   *time.Timer
}

// Option configures the Waiter.
type Option func(*Waiter)

// WithName sets the cadence name used in logs and metrics.
func WithName(name string) Option {
	return func(w *Waiter) {
		w.name = name
	}
}

// WithLogger sets the logger used to report overruns.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Waiter) {
		w.log = l
	}
}

// WithResync makes waiter realign its cursor to the current interval grid
// when more than n deadlines were missed in a single call. Without this
// option the waiter bursts until it catches up with the grid.
func WithResync(n int) Option {
	return func(w *Waiter) {
		w.resync = n
	}
}

// WithSpin makes waiter yield in a loop for the last d of every wait instead
// of relying on the timer. It trades CPU for lower wake-up jitter.
func WithSpin(d time.Duration) Option {
	return func(w *Waiter) {
		w.spin = d
	}
}

// WithOverrunHook sets a function called with the overrun count every time
// a deadline is missed.
func WithOverrunHook(fn func(int)) Option {
	return func(w *Waiter) {
		w.onOver = fn
	}
}

// NewWaiter returns a waiter with provided interval.
func NewWaiter(c *Clock, interval time.Duration, options ...Option) (*Waiter, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	w := Waiter{
		clock:    c,
		interval: interval,
		name:     "cadence",
		log:      logrus.StandardLogger(),
		timer:    time.NewTimer(time.Hour),
	}
	w.timer.Stop()
	for _, option := range options {
		option(&w)
	}
	return &w, nil
}

// Interval returns the cadence interval.
func (w *Waiter) Interval() time.Duration {
	return w.interval
}

// Wait blocks until the next deadline is reached and returns the number of
// deadlines that were missed: 0 if the caller arrived in time. Overruns are
// reported, never returned as errors. If context is done while waiting,
// context error is returned instead of a tick.
func (w *Waiter) Wait(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := w.clock.Elapsed()
	if !w.started {
		w.started = true
		w.next = now + w.interval
	}

	overrun := 0
	if now <= w.next {
		if err := w.sleep(ctx, w.next); err != nil {
			return 0, err
		}
	} else {
		overrun = int((now-w.next)/w.interval) + 1
	}

	w.next += w.interval
	if overrun > 0 {
		if w.resync > 0 && overrun > w.resync {
			w.next += time.Duration(overrun-1) * w.interval
		}
		w.report(overrun)
	}
	return overrun, nil
}

func (w *Waiter) sleep(ctx context.Context, deadline time.Duration) error {
	if d := deadline - w.clock.Elapsed() - w.spin; d > 0 {
		w.timer.Reset(d)
		select {
		case <-ctx.Done():
			w.timer.Stop()
			return ctx.Err()
		case <-w.timer.C:
		}
	}
	for w.clock.Elapsed() < deadline {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func (w *Waiter) report(overrun int) {
	if w.onOver != nil {
		w.onOver(overrun)
	}
	entry := w.log.WithFields(logrus.Fields{
		"cadence":  w.name,
		"overrun":  overrun,
		"interval": w.interval,
	})
	// more than one missed frame means the path is bursting
	if overrun > 1 {
		entry.Error("cadence delayed")
		return
	}
	entry.Warn("cadence overrun")
}
