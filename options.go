package rtmix

import (
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/clock"
	"pipelined.dev/rtmix/log"
	"pipelined.dev/rtmix/metric"
	"pipelined.dev/rtmix/midi"
)

// Option configures pipeline build and engine.
type Option func(*options)

type options struct {
	clock    *clock.Clock
	log      logrus.FieldLogger
	metric   *metric.Metric
	tracer   *log.TraceReporter
	router   *midi.Router
	teardown time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		clock:    clock.New(),
		log:      log.GetLogger(),
		router:   &midi.Router{},
		teardown: time.Second,
	}
	for _, option := range opts {
		option(&o)
	}
	return o
}

// WithLogger sets logger. If this option is not provided, logger from log
// package is used.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMetric adds metrics for all stages, cadences and pools.
func WithMetric(m *metric.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithClock sets the reference clock.
func WithClock(c *clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTraceReporter sets reporter of buffer traces.
func WithTraceReporter(r *log.TraceReporter) Option {
	return func(o *options) {
		o.tracer = r
	}
}

// WithRouter sets the MIDI router that feeds the audio path.
func WithRouter(r *midi.Router) Option {
	return func(o *options) {
		o.router = r
	}
}

// WithTeardownTimeout sets how long teardown waits for borrowed buffers.
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.teardown = d
	}
}
