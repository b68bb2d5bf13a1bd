/*
Package pool provides fixed-capacity recycling pools of pre-allocated
buffers.

All buffers of a pool are built eagerly by a factory, so a running pipeline
never allocates payloads. A buffer has exactly one owner at any instant:
Receive hands it out, Post takes it back. Posting the same buffer twice or
touching a posted buffer is a programming error. In debug mode (RTMIX_DEBUG)
such misuse panics, otherwise it's logged and ignored.
*/
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/log"
)

var (
	// ErrDoublePost is reported when a buffer that is already free is
	// posted.
	ErrDoublePost = errors.New("buffer posted twice")
	// ErrUseAfterPost is reported when payload of a free buffer is
	// accessed.
	ErrUseAfterPost = errors.New("buffer used after post")
	// ErrForeignBuffer is reported when a buffer is posted into a pool
	// that didn't create it.
	ErrForeignBuffer = errors.New("buffer posted to foreign pool")
	// ErrOutstanding is returned by Close when borrowed buffers were not
	// returned in time.
	ErrOutstanding = errors.New("buffers outstanding")
	// ErrClosed is returned by Receive when pool is closed.
	ErrClosed = errors.New("pool closed")
	// ErrCapacity is returned when pool is created with non-positive
	// capacity.
	ErrCapacity = errors.New("pool capacity must be positive")
)

const (
	stateFree int32 = iota
	stateBorrowed
)

// Buffer is a reusable payload plus diagnostic trace.
type Buffer[T any] struct {
	// Seq is a sequence number assigned by the source stage of a path.
	Seq uint64
	// Time is the µs timestamp assigned by the source stage of a path.
	Time int64
	// Slot is the index of the buffer in its pool. For segment-backed
	// pools it's the slot index in the segment.
	Slot  int
	Trace Trace

	payload T
	state   atomic.Int32
	pool    *Pool[T]
}

// Payload returns the payload of the borrowed buffer.
func (b *Buffer[T]) Payload() T {
	if b.state.Load() != stateBorrowed {
		b.pool.misuse(ErrUseAfterPost, b)
	}
	return b.payload
}

// Borrowed reports if the buffer is currently owned outside of the pool.
func (b *Buffer[T]) Borrowed() bool {
	return b.state.Load() == stateBorrowed
}

// Factory builds payload for the buffer with provided pool index.
type Factory[T any] func(slot int) (T, error)

// Option configures the pool.
type Option func(*options)

type options struct {
	name   string
	debug  bool
	log    logrus.FieldLogger
	onFree func(free int)
}

// WithName sets the pool name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithDebug overrides debug mode. Misuse panics in debug mode.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithLogger sets the pool logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithFreeGauge sets a function called with the number of free buffers
// every time it changes.
func WithFreeGauge(fn func(free int)) Option {
	return func(o *options) {
		o.onFree = fn
	}
}

// Pool is a fixed-capacity recycler of buffers. It's safe for concurrent
// use.
type Pool[T any] struct {
	options
	all      []*Buffer[T]
	free     chan *Buffer[T]
	borrowed atomic.Int64
	returned chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New creates a pool and builds all its buffers with provided factory.
func New[T any](capacity int, factory Factory[T], opts ...Option) (*Pool[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	p := Pool[T]{
		options: options{
			name:  "pool",
			debug: log.Debug(),
			log:   logrus.StandardLogger(),
		},
		all:      make([]*Buffer[T], capacity),
		free:     make(chan *Buffer[T], capacity),
		returned: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, option := range opts {
		option(&p.options)
	}
	for i := range p.all {
		payload, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("pool %s: buffer %d: %w", p.name, i, err)
		}
		b := &Buffer[T]{
			Slot:    i,
			Trace:   newTrace(),
			payload: payload,
			pool:    &p,
		}
		p.all[i] = b
		p.free <- b
	}
	return &p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Cap returns the pool capacity.
func (p *Pool[T]) Cap() int {
	return len(p.all)
}

// Free returns number of buffers in the pool.
func (p *Pool[T]) Free() int {
	return len(p.free)
}

// Borrowed returns number of buffers owned outside of the pool.
func (p *Pool[T]) Borrowed() int {
	return int(p.borrowed.Load())
}

// Buffer returns the buffer with provided index without borrowing it.
func (p *Pool[T]) Buffer(slot int) *Buffer[T] {
	return p.all[slot]
}

// Receive returns a free buffer, blocking while none is available. It
// returns context error if ctx is done first and ErrClosed if pool is
// closed.
func (p *Pool[T]) Receive(ctx context.Context) (*Buffer[T], error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}
	select {
	case b := <-p.free:
		p.borrow(b)
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	}
}

// TryReceive returns a free buffer if one is available.
func (p *Pool[T]) TryReceive() (*Buffer[T], bool) {
	select {
	case b := <-p.free:
		p.borrow(b)
		return b, true
	default:
		return nil, false
	}
}

func (p *Pool[T]) borrow(b *Buffer[T]) {
	b.state.Store(stateBorrowed)
	b.Trace.Clear()
	p.borrowed.Add(1)
	p.gauge()
}

// Post returns the buffer to the pool. It never blocks.
func (p *Pool[T]) Post(b *Buffer[T]) {
	if b.pool != p {
		p.misuse(ErrForeignBuffer, b)
		return
	}
	if !b.state.CompareAndSwap(stateBorrowed, stateFree) {
		p.misuse(ErrDoublePost, b)
		return
	}
	// capacity equals number of buffers, so this never blocks
	p.free <- b
	p.borrowed.Add(-1)
	p.gauge()
	select {
	case p.returned <- struct{}{}:
	default:
	}
}

func (p *Pool[T]) gauge() {
	if p.onFree != nil {
		p.onFree(len(p.free))
	}
}

// Close stops handing out buffers and waits until all borrowed buffers
// are returned. If ctx is done first, ErrOutstanding is returned.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.once.Do(func() {
		close(p.done)
	})
	for {
		n := p.borrowed.Load()
		if n == 0 {
			p.gauge()
			p.log.WithField("pool", p.name).Debug("pool closed")
			return nil
		}
		select {
		case <-p.returned:
		case <-ctx.Done():
			p.log.WithFields(logrus.Fields{
				"pool":        p.name,
				"outstanding": n,
			}).Error("pool closed with outstanding buffers")
			return fmt.Errorf("pool %s: %w: %d", p.name, ErrOutstanding, n)
		}
	}
}

func (p *Pool[T]) misuse(err error, b *Buffer[T]) {
	if p.debug {
		panic(fmt.Errorf("pool %s: slot %d: %w", p.name, b.Slot, err))
	}
	p.log.WithFields(logrus.Fields{
		"pool": p.name,
		"slot": b.Slot,
	}).Error(err)
}
