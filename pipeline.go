package rtmix

import (
	"context"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pipelined.dev/rtmix/clock"
	"pipelined.dev/rtmix/internal/sched"
	"pipelined.dev/rtmix/metric"
)

type (
	drainer interface {
		Name() string
		Drain() int
	}

	closer struct {
		name string
		fn   func(context.Context) error
	}
)

// Pipeline is a set of stages that run concurrently and share one
// cancellation signal. Pipeline is built for a single run.
type Pipeline struct {
	id     xid.ID
	clock  *clock.Clock
	log    logrus.FieldLogger
	metric *metric.Metric

	stages  []Stage
	links   []drainer
	stop    []func()
	closers []closer
	effect  Effect
}

// NewPipeline returns empty pipeline.
func NewPipeline(c *clock.Clock, l logrus.FieldLogger, m *metric.Metric) *Pipeline {
	id := xid.New()
	return &Pipeline{
		id:     id,
		clock:  c,
		log:    l.WithField("run", id.String()),
		metric: m,
	}
}

// ID returns the run identifier.
func (p *Pipeline) ID() xid.ID {
	return p.id
}

// Stages returns names of pipeline stages.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Add appends stages to the pipeline.
func (p *Pipeline) Add(stages ...Stage) {
	p.stages = append(p.stages, stages...)
}

// track registers link that is drained after the run.
func (p *Pipeline) track(links ...drainer) {
	p.links = append(p.links, links...)
}

// onStop registers function that is called when all stages are done,
// before links are drained.
func (p *Pipeline) onStop(fn func()) {
	p.stop = append(p.stop, fn)
}

// deferClose registers teardown function. Teardown functions are called in
// reverse order.
func (p *Pipeline) deferClose(name string, fn func(context.Context) error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Run starts all stages and blocks until every one of them is done. The
// first stage fault cancels all other stages and is returned as
// *StageFault. Every fault is logged. Cancellation of ctx is a normal
// completion.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range p.stages {
		g.Go(func() error {
			l := p.log.WithField("stage", s.Name())
			sched.Enter(s.Class(), l)
			l.Debug("stage started")
			if err := s.Run(gctx); err != nil {
				f := &StageFault{
					Stage: s.Name(),
					Run:   p.id,
					At:    p.clock.Micros(),
					Err:   err,
				}
				l.WithField("atUs", f.At).WithError(err).Error("stage fault")
				p.metric.Fault(s.Name())
				return f
			}
			l.Debug("stage done")
			return nil
		})
	}
	err := g.Wait()

	for _, fn := range p.stop {
		fn()
	}
	for _, l := range p.links {
		if n := l.Drain(); n > 0 {
			p.log.WithFields(logrus.Fields{
				"link":    l.Name(),
				"buffers": n,
			}).Debug("link drained")
		}
	}
	return err
}

// Close releases all resources of the pipeline in reverse order of their
// creation. It must be called after Run returned.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs teardownErrors
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(ctx); err != nil {
			p.log.WithField("resource", c.name).WithError(err).Error("teardown failed")
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errs.ret()
}
