package bridge

import (
	"context"
	"sync"

	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/signal"
)

// controlVolume is the channel volume controller.
const controlVolume = 7

// Gain scales samples by its level. Channel volume control changes set the
// level.
type Gain struct {
	mu    sync.Mutex
	level float32
}

// NewGain returns gain processor with initial level.
func NewGain(level float32) *Gain {
	return &Gain{level: level}
}

// Level returns the current level.
func (g *Gain) Level() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Process implements Processor.
func (g *Gain) Process(_ int64, events []midi.Event, block signal.Planar) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range events {
		var channel, controller, value uint8
		if e.Message().GetControlChange(&channel, &controller, &value) && controller == controlVolume {
			g.level = float32(value) / 127
		}
	}
	for _, ch := range block {
		for i := range ch {
			ch[i] *= g.level
		}
	}
	return nil
}

// Local renders blocks with processor in this process.
type Local struct {
	p      Processor
	events []midi.Event
}

// NewLocal returns in-process effect.
func NewLocal(p Processor) *Local {
	return &Local{
		p:      p,
		events: make([]midi.Event, 0, MaxEvents),
	}
}

// ProcessEvent takes pending events received up to timeUs.
func (l *Local) ProcessEvent(timeUs int64, src midi.Source) error {
	l.events = src.Drain(timeUs, l.events)
	return nil
}

// ProcessReplacing renders the block in place.
func (l *Local) ProcessReplacing(_ context.Context, timeUs int64, block *pool.Buffer[signal.Planar]) error {
	err := l.p.Process(timeUs, l.events, block.Payload())
	l.events = l.events[:0]
	return err
}

// OpenEditor opens editor of the processor.
func (l *Local) OpenEditor() error {
	if ed, ok := l.p.(Editor); ok {
		return ed.OpenEditor()
	}
	return ErrNoEditor
}

// CloseEditor closes editor of the processor.
func (l *Local) CloseEditor() error {
	if ed, ok := l.p.(Editor); ok {
		return ed.CloseEditor()
	}
	return ErrNoEditor
}
