package rtmix

import (
	"context"
	"io"
	"sync"

	"pipelined.dev/rtmix/pool"
)

// Link connects the output of one stage with the input of another. Its
// capacity equals the capacity of the pool that owns carried buffers, so a
// producer can't outrun the consumer by more than the pool allows.
type Link[T any] struct {
	name string
	pool *pool.Pool[T]
	ch   chan *pool.Buffer[T]
	once sync.Once
}

// NewLink returns link for buffers of provided pool.
func NewLink[T any](name string, p *pool.Pool[T]) *Link[T] {
	return &Link[T]{
		name: name,
		pool: p,
		ch:   make(chan *pool.Buffer[T], p.Cap()),
	}
}

// Name returns the link name.
func (l *Link[T]) Name() string {
	return l.name
}

// Pool returns the pool of carried buffers.
func (l *Link[T]) Pool() *pool.Pool[T] {
	return l.pool
}

// Send hands the buffer over to the consumer. If ctx is done first, the
// buffer is posted back to its pool.
func (l *Link[T]) Send(ctx context.Context, b *pool.Buffer[T]) error {
	select {
	case l.ch <- b:
		return nil
	case <-ctx.Done():
		l.pool.Post(b)
		return ctx.Err()
	}
}

// TrySend hands the buffer over if consumer has room for it. Otherwise
// the buffer is posted back and false is returned.
func (l *Link[T]) TrySend(b *pool.Buffer[T]) bool {
	select {
	case l.ch <- b:
		return true
	default:
		l.pool.Post(b)
		return false
	}
}

// Receive returns the next buffer. io.EOF is returned when producer closed
// the link.
func (l *Link[T]) Receive(ctx context.Context) (*pool.Buffer[T], error) {
	select {
	case b, ok := <-l.ch:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close is called by the producer when it's done.
func (l *Link[T]) Close() {
	l.once.Do(func() {
		close(l.ch)
	})
}

// Drain posts all buffers left in the link back to the pool. It must be
// called after both ends of the link are done.
func (l *Link[T]) Drain() int {
	n := 0
	for {
		select {
		case b, ok := <-l.ch:
			if !ok {
				return n
			}
			l.pool.Post(b)
			n++
		default:
			return n
		}
	}
}
