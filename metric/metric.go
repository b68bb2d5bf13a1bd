// Package metric provides prometheus meters for pipeline stages, cadences
// and pools. A nil *Metric is valid and measures nothing.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pipelined.dev/rtmix/signal"
)

const namespace = "rtmix"

// Metric holds all collectors of the engine.
type Metric struct {
	messages *prometheus.CounterVec
	samples  *prometheus.CounterVec
	duration *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	faults   *prometheus.CounterVec
	overruns *prometheus.CounterVec
	poolFree *prometheus.GaugeVec
}

// New registers engine collectors in provided registerer.
func New(reg prometheus.Registerer) *Metric {
	f := promauto.With(reg)
	return &Metric{
		messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_messages_total",
				Help:      "Number of buffers processed by stage",
			},
			[]string{"stage"},
		),
		samples: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_samples_total",
				Help:      "Number of samples per channel processed by stage",
			},
			[]string{"stage"},
		),
		duration: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_signal_seconds_total",
				Help:      "Duration of signal processed by stage",
			},
			[]string{"stage"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_latency_seconds",
				Help:      "Time between consecutive stage invocations",
				Buckets:   []float64{.0025, .005, .01, .015, .02, .04, .06, .1, .25},
			},
			[]string{"stage"},
		),
		faults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_faults_total",
				Help:      "Number of stage faults",
			},
			[]string{"stage"},
		),
		overruns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cadence_overruns_total",
				Help:      "Number of missed cadence deadlines",
			},
			[]string{"cadence"},
		),
		poolFree: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_free_buffers",
				Help:      "Number of free buffers in pool",
			},
			[]string{"pool"},
		),
	}
}

// ResetFunc returns new Measure closure. This closure is needed to postpone
// metrics capture until stage is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when buffer is processed.
type MeasureFunc func(samples int64)

func noop(int64) {}

// Meter creates new meter closure to capture stage counters.
func (m *Metric) Meter(stage string, sampleRate int) ResetFunc {
	if m == nil {
		return func() MeasureFunc { return noop }
	}
	var (
		messages = m.messages.WithLabelValues(stage)
		samples  = m.samples.WithLabelValues(stage)
		duration = m.duration.WithLabelValues(stage)
		latency  = m.latency.WithLabelValues(stage)
	)
	return func() MeasureFunc {
		calledAt := time.Now()
		var (
			bufferSize     int64
			bufferDuration time.Duration
		)
		return func(s int64) {
			now := time.Now()
			latency.Observe(now.Sub(calledAt).Seconds())
			messages.Inc()
			samples.Add(float64(s))
			// recalculate buffer duration only when buffer size has changed
			if bufferSize != s && sampleRate > 0 {
				bufferSize = s
				bufferDuration = signal.DurationOf(sampleRate, s)
			}
			duration.Add(bufferDuration.Seconds())
			calledAt = now
		}
	}
}

// Fault counts the fault of the stage.
func (m *Metric) Fault(stage string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(stage).Inc()
}

// Overrun returns hook that counts missed deadlines of the cadence.
func (m *Metric) Overrun(cadence string) func(int) {
	if m == nil {
		return nil
	}
	c := m.overruns.WithLabelValues(cadence)
	return func(n int) {
		c.Add(float64(n))
	}
}

// PoolFree returns hook that sets the free buffers gauge of the pool.
func (m *Metric) PoolFree(pool string) func(int) {
	if m == nil {
		return nil
	}
	g := m.poolFree.WithLabelValues(pool)
	return func(n int) {
		g.Set(float64(n))
	}
}
