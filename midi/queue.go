package midi

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO of events. Post never blocks: events that don't
// fit are dropped and counted.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	head    int
	size    int
	dropped atomic.Uint64
}

// NewQueue returns queue with provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{buf: make([]Event, capacity)}
}

// Post appends the event. It returns false if queue is full.
func (q *Queue) Post(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.buf) {
		q.dropped.Add(1)
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = e
	q.size++
	return true
}

// Drain appends events received at or before untilUs to dst. Events
// arrive in order, so draining stops at the first later event.
func (q *Queue) Drain(untilUs int64, dst []Event) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size > 0 {
		e := q.buf[q.head]
		if e.ReceivedUs > untilUs {
			break
		}
		dst = append(dst, e)
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	return dst
}

// Len returns number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Reset removes pending events.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head, q.size = 0, 0
}

// Dropped returns number of events dropped because queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
