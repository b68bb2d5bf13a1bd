/*
Package midi provides time-stamped MIDI events delivered out-of-band into
the audio path.

Events are posted by the ingestion host into a Router, which fans them out
to the audio side input (Queue) and to other observers such as the
visualizer. The audio effect drains the queue up to the time of the block
it renders.
*/
package midi

import (
	"errors"
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// ErrMessage is returned when raw message can't be represented as event.
var ErrMessage = errors.New("invalid midi message")

// Event is a raw short MIDI message with its arrival time.
type Event struct {
	ReceivedUs int64
	Data       [4]byte
}

// NewEvent returns event for provided raw message. Only short messages up
// to 4 bytes are accepted.
func NewEvent(receivedUs int64, raw []byte) (Event, error) {
	if len(raw) == 0 || len(raw) > 4 || raw[0]&0x80 == 0 {
		return Event{}, fmt.Errorf("%w: % x", ErrMessage, raw)
	}
	e := Event{ReceivedUs: receivedUs}
	copy(e.Data[:], raw)
	return e, nil
}

// Len returns the length of the message encoded in the event.
func (e Event) Len() int {
	switch e.Data[0] & 0xF0 {
	case 0xC0, 0xD0:
		return 2
	case 0xF0:
		switch e.Data[0] {
		case 0xF1, 0xF3:
			return 2
		case 0xF2:
			return 3
		default:
			return 1
		}
	default:
		return 3
	}
}

// Message returns the event as gomidi message.
func (e Event) Message() gomidi.Message {
	return gomidi.Message(e.Data[:e.Len()])
}

// String returns human-readable event.
func (e Event) String() string {
	return fmt.Sprintf("%dµs %s", e.ReceivedUs, e.Message().String())
}

// Source provides events pending up to provided time.
type Source interface {
	// Drain appends events received at or before untilUs to dst in arrival
	// order and removes them from the source.
	Drain(untilUs int64, dst []Event) []Event
}

// Target receives posted events. Post must not block.
type Target interface {
	Post(Event) bool
}

// Router fans events out to attached targets.
type Router struct {
	mu      sync.RWMutex
	targets []Target
}

// Attach replaces the set of targets.
func (r *Router) Attach(targets ...Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets[:0], targets...)
}

// Detach removes all targets. Events posted to detached router are
// dropped.
func (r *Router) Detach() {
	r.Attach()
}

// Post delivers the event to all targets. It returns false if there were
// no targets or any of them dropped the event.
func (r *Router) Post(e Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.targets) == 0 {
		return false
	}
	ok := true
	for _, t := range r.targets {
		ok = t.Post(e) && ok
	}
	return ok
}

// TargetFunc is an adapter to use function as Target.
type TargetFunc func(Event)

// Post calls the function.
func (fn TargetFunc) Post(e Event) bool {
	fn(e)
	return true
}
