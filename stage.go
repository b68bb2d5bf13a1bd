package rtmix

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"pipelined.dev/rtmix/clock"
	"pipelined.dev/rtmix/internal/runtime"
	"pipelined.dev/rtmix/internal/sched"
	"pipelined.dev/rtmix/metric"
	"pipelined.dev/rtmix/pool"
)

// Stage is a single unit of pipeline work. Run blocks until the stage is
// done: its input is closed, ctx is cancelled or it failed.
type Stage interface {
	Name() string
	Class() sched.Class
	Run(context.Context) error
}

// StageOption configures a stage.
type StageOption func(*stage)

// WithClass sets the scheduling class of the stage.
func WithClass(c sched.Class) StageOption {
	return func(s *stage) {
		s.class = c
	}
}

// WithMeter sets the meter of the stage. Samples is the number of samples
// per channel carried by a single buffer.
func WithMeter(reset metric.ResetFunc, samples int64) StageOption {
	return func(s *stage) {
		s.reset = reset
		s.samples = samples
	}
}

// WithStart sets the start hook of the stage.
func WithStart(fn func(context.Context) error) StageOption {
	return func(s *stage) {
		s.start = fn
	}
}

// WithFlush sets the flush hook of the stage. Flush is called when stage
// is done, even if it failed.
func WithFlush(fn func(context.Context) error) StageOption {
	return func(s *stage) {
		s.flush = fn
	}
}

// hook is an optional start or flush callback.
type hook func(context.Context) error

func (h hook) call(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return h(ctx)
}

// stage holds properties common for all shapes.
type stage struct {
	name    string
	class   sched.Class
	clock   *clock.Clock
	start   hook
	flush   hook
	reset   metric.ResetFunc
	measure metric.MeasureFunc
	samples int64
}

func newStage(name string, c *clock.Clock, opts []StageOption) stage {
	s := stage{
		name:  name,
		class: sched.Background,
		clock: c,
	}
	for _, option := range opts {
		option(&s)
	}
	return s
}

// Name returns the stage name.
func (s *stage) Name() string {
	return s.name
}

// Class returns the scheduling class of the stage.
func (s *stage) Class() sched.Class {
	return s.class
}

// Start resets the meter and calls the start hook.
func (s *stage) Start(ctx context.Context) error {
	if s.reset != nil {
		s.measure = s.reset()
	} else {
		s.measure = func(int64) {}
	}
	return s.start.call(ctx)
}

// forward returns the buffer to its pool, or sends it into the pass link
// if it's set.
func forward[T any](ctx context.Context, name string, at int64, b *pool.Buffer[T], owner *pool.Pool[T], pass *Link[T]) error {
	if pass == nil {
		owner.Post(b)
		return nil
	}
	b.Trace.Add(name, at)
	return pass.Send(ctx, b)
}

// Source produces buffers at the cadence of its waiter. It assigns
// sequence numbers and timestamps to produced buffers.
type Source[T any] struct {
	stage
	pool   *pool.Pool[T]
	waiter *clock.Waiter
	out    *Link[T]
	fill   func(context.Context, *pool.Buffer[T]) error
	seq    uint64
}

// NewSource returns source stage. Fill is optional and is called for every
// buffer before it's sent.
func NewSource[T any](name string, c *clock.Clock, w *clock.Waiter, out *Link[T], fill func(context.Context, *pool.Buffer[T]) error, opts ...StageOption) *Source[T] {
	return &Source[T]{
		stage:  newStage(name, c, opts),
		pool:   out.Pool(),
		waiter: w,
		out:    out,
		fill:   fill,
	}
}

// Run the stage.
func (s *Source[T]) Run(ctx context.Context) error {
	return runtime.Run(ctx, s)
}

// Execute produces a single buffer.
func (s *Source[T]) Execute(ctx context.Context) error {
	b, err := s.pool.Receive(ctx)
	if err != nil {
		return err
	}
	if err := s.produce(ctx, b); err != nil {
		return err
	}
	s.measure(s.samples)
	return s.out.Send(ctx, b)
}

// produce waits for the deadline and fills the buffer. The buffer is
// posted back if it fails or panics.
func (s *Source[T]) produce(ctx context.Context, b *pool.Buffer[T]) error {
	done := false
	defer func() {
		if !done {
			s.pool.Post(b)
		}
	}()
	if _, err := s.waiter.Wait(ctx); err != nil {
		return err
	}
	b.Seq = s.seq
	s.seq++
	b.Time = s.clock.Micros()
	b.Trace.Add(s.name, b.Time)
	if s.fill != nil {
		if err := s.fill(ctx, b); err != nil {
			return err
		}
	}
	done = true
	return nil
}

// Flush closes the output link.
func (s *Source[T]) Flush(ctx context.Context) error {
	s.out.Close()
	return s.flush.call(ctx)
}

// Transform computes output buffer from input buffer. Input buffer is
// either posted back to its pool or, if pass link is set, forwarded
// downstream.
type Transform[In, Out any] struct {
	stage
	in   *Link[In]
	out  *Link[Out]
	pass *Link[In]
	fn   func(context.Context, *pool.Buffer[In], *pool.Buffer[Out]) error
}

// NewTransform returns transform stage. Pass link is optional.
func NewTransform[In, Out any](name string, c *clock.Clock, in *Link[In], out *Link[Out], pass *Link[In], fn func(context.Context, *pool.Buffer[In], *pool.Buffer[Out]) error, opts ...StageOption) *Transform[In, Out] {
	return &Transform[In, Out]{
		stage: newStage(name, c, opts),
		in:    in,
		out:   out,
		pass:  pass,
		fn:    fn,
	}
}

// Run the stage.
func (t *Transform[In, Out]) Run(ctx context.Context) error {
	return runtime.Run(ctx, t)
}

// Execute transforms a single buffer.
func (t *Transform[In, Out]) Execute(ctx context.Context) error {
	in, err := t.in.Receive(ctx)
	if err != nil {
		return err
	}
	out, err := t.out.Pool().Receive(ctx)
	if err != nil {
		t.in.Pool().Post(in)
		return err
	}
	if err := t.call(ctx, in, out); err != nil {
		return err
	}
	at := t.clock.Micros()
	out.Trace.Add(t.name, at)
	t.measure(t.samples)
	if err := t.out.Send(ctx, out); err != nil {
		t.in.Pool().Post(in)
		return err
	}
	return forward(ctx, t.name, at, in, t.in.Pool(), t.pass)
}

// call invokes the transform function. Both buffers are posted back if it
// fails or panics.
func (t *Transform[In, Out]) call(ctx context.Context, in *pool.Buffer[In], out *pool.Buffer[Out]) error {
	done := false
	defer func() {
		if !done {
			t.in.Pool().Post(in)
			t.out.Pool().Post(out)
		}
	}()
	out.Seq, out.Time = in.Seq, in.Time
	out.Trace.Merge(&in.Trace)
	if err := t.fn(ctx, in, out); err != nil {
		return err
	}
	done = true
	return nil
}

// Flush closes output links.
func (t *Transform[In, Out]) Flush(ctx context.Context) error {
	t.out.Close()
	if t.pass != nil {
		t.pass.Close()
	}
	return t.flush.call(ctx)
}

// Sink consumes buffers. Consumed buffer is either posted back to its pool
// or, if pass link is set, forwarded downstream.
type Sink[T any] struct {
	stage
	in   *Link[T]
	pass *Link[T]
	fn   func(context.Context, *pool.Buffer[T]) error
}

// NewSink returns sink stage. Pass link is optional.
func NewSink[T any](name string, c *clock.Clock, in *Link[T], pass *Link[T], fn func(context.Context, *pool.Buffer[T]) error, opts ...StageOption) *Sink[T] {
	return &Sink[T]{
		stage: newStage(name, c, opts),
		in:    in,
		pass:  pass,
		fn:    fn,
	}
}

// Run the stage.
func (s *Sink[T]) Run(ctx context.Context) error {
	return runtime.Run(ctx, s)
}

// Execute consumes a single buffer.
func (s *Sink[T]) Execute(ctx context.Context) error {
	b, err := s.in.Receive(ctx)
	if err != nil {
		return err
	}
	if err := s.call(ctx, b); err != nil {
		return err
	}
	s.measure(s.samples)
	return forward(ctx, s.name, s.clock.Micros(), b, s.in.Pool(), s.pass)
}

// call invokes the sink function. The buffer is posted back if it fails
// or panics.
func (s *Sink[T]) call(ctx context.Context, b *pool.Buffer[T]) error {
	done := false
	defer func() {
		if !done {
			s.in.Pool().Post(b)
		}
	}()
	if err := s.fn(ctx, b); err != nil {
		return err
	}
	done = true
	return nil
}

// Flush closes the pass link.
func (s *Sink[T]) Flush(ctx context.Context) error {
	if s.pass != nil {
		s.pass.Close()
	}
	return s.flush.call(ctx)
}

// Inlet is a single input of merge sink.
type Inlet interface {
	serve(ctx context.Context, mu *sync.Mutex) error
	side() bool
}

type inlet[T any] struct {
	in     *Link[T]
	fn     func(context.Context, *pool.Buffer[T]) error
	isSide bool
}

// NewInlet returns primary inlet. Merge sink is done when all its primary
// inlets are closed.
func NewInlet[T any](in *Link[T], fn func(context.Context, *pool.Buffer[T]) error) Inlet {
	return &inlet[T]{in: in, fn: fn}
}

// NewSideInlet returns side inlet. Side inlets are served while any of
// primary inlets is open.
func NewSideInlet[T any](in *Link[T], fn func(context.Context, *pool.Buffer[T]) error) Inlet {
	return &inlet[T]{in: in, fn: fn, isSide: true}
}

func (i *inlet[T]) side() bool {
	return i.isSide
}

func (i *inlet[T]) serve(ctx context.Context, mu *sync.Mutex) error {
	for {
		b, err := i.in.Receive(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		err = runtime.Protect(ctx, func(ctx context.Context) error {
			return i.fn(ctx, b)
		})
		mu.Unlock()
		i.in.Pool().Post(b)
		if err != nil {
			return err
		}
	}
}

// MergeSink folds multiple inputs into shared state. Every inlet is served
// by its own goroutine, calls of inlet functions are serialized.
type MergeSink struct {
	stage
	mu     sync.Mutex
	inlets []Inlet
}

// NewMergeSink returns merge sink stage.
func NewMergeSink(name string, c *clock.Clock, inlets []Inlet, opts ...StageOption) *MergeSink {
	return &MergeSink{
		stage:  newStage(name, c, opts),
		inlets: inlets,
	}
}

// Run the stage.
func (m *MergeSink) Run(ctx context.Context) error {
	return runtime.Run(ctx, m)
}

// Execute serves all inlets until primary ones are done. It returns
// io.EOF when merge sink completed normally.
func (m *MergeSink) Execute(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sideCtx, cancelSide := context.WithCancel(gctx)
	defer cancelSide()

	var primary sync.WaitGroup
	for _, in := range m.inlets {
		if in.side() {
			g.Go(func() error {
				err := in.serve(sideCtx, &m.mu)
				// side inlets are stopped when primary ones are done
				if errors.Is(err, context.Canceled) && gctx.Err() == nil {
					return nil
				}
				return eof(err)
			})
			continue
		}
		primary.Add(1)
		g.Go(func() error {
			defer primary.Done()
			return eof(in.serve(gctx, &m.mu))
		})
	}
	g.Go(func() error {
		primary.Wait()
		cancelSide()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Flush calls the flush hook.
func (m *MergeSink) Flush(ctx context.Context) error {
	return m.flush.call(ctx)
}

func eof(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
