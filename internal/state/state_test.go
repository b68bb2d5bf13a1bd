package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/rtmix/internal/state"
)

// path drives machine from idle into the key state.
var path = map[state.State][]state.State{
	state.Idle:     nil,
	state.Starting: {state.Starting},
	state.Running:  {state.Starting, state.Running},
	state.Stopping: {state.Starting, state.Running, state.Stopping},
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from state.State
		to   state.State
		ok   bool
	}{
		{from: state.Idle, to: state.Starting, ok: true},
		{from: state.Starting, to: state.Running, ok: true},
		{from: state.Starting, to: state.Idle, ok: true},
		{from: state.Running, to: state.Stopping, ok: true},
		{from: state.Stopping, to: state.Idle, ok: true},
		{from: state.Idle, to: state.Running},
		{from: state.Idle, to: state.Stopping},
		{from: state.Running, to: state.Idle},
		{from: state.Running, to: state.Starting},
		{from: state.Stopping, to: state.Running},
	}
	for _, test := range tests {
		var m state.Machine
		prev := state.Idle
		for _, s := range path[test.from] {
			assert.NoError(t, m.Transition(prev, s))
			prev = s
		}
		err := m.Transition(test.from, test.to)
		if test.ok {
			assert.NoError(t, err, "%s -> %s", test.from, test.to)
			assert.Equal(t, test.to, m.Load())
		} else {
			assert.ErrorIs(t, err, state.ErrInvalidState, "%s -> %s", test.from, test.to)
			assert.Equal(t, test.from, m.Load())
		}
	}
}

func TestTransitionFromWrongState(t *testing.T) {
	var m state.Machine
	err := m.Transition(state.Running, state.Stopping)
	assert.ErrorIs(t, err, state.ErrInvalidState)
	assert.Equal(t, state.Idle, m.Load())
}

func TestString(t *testing.T) {
	assert.Equal(t, "idle", state.Idle.String())
	assert.Equal(t, "stopping", state.Stopping.String())
	assert.Equal(t, "state(7)", state.State(7).String())
}
