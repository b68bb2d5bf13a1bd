// Package state provides the lifecycle state machine of the engine.
package state

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrInvalidState is returned if transition is not allowed from the
	// current state.
	ErrInvalidState = errors.New("invalid state")
)

// State identifies one of the possible states engine can be in.
type State int32

// states
const (
	Idle     State = iota // Idle means that pipeline can be started.
	Starting              // Starting means that pipeline is being built.
	Running               // Running means that pipeline is executing.
	Stopping              // Stopping means that pipeline is draining.
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// allowed transitions
var transitions = map[State][]State{
	Idle:     {Starting},
	Starting: {Running, Idle},
	Running:  {Stopping},
	Stopping: {Idle},
}

// Machine holds the current state. Reads are lock-free, transitions are
// compare-and-swap.
type Machine struct {
	v atomic.Int32
}

// Load returns the current state.
func (m *Machine) Load() State {
	return State(m.v.Load())
}

// Transition moves machine from one state to another. ErrInvalidState is
// returned if the machine is not in from state or transition is not
// allowed.
func (m *Machine) Transition(from, to State) error {
	if !allowed(from, to) {
		return fmt.Errorf("%w: transition %s -> %s", ErrInvalidState, from, to)
	}
	if !m.v.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s, expected %s", ErrInvalidState, m.Load(), from)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
