// Package mock provides pipeline collaborators for tests. All mocks are
// safe for concurrent use and count their calls.
package mock

import (
	"context"
	"image/color"
	"sync"
	"time"

	"pipelined.dev/rtmix"
	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/shm"
	"pipelined.dev/rtmix/signal"
)

// counter counts calls and samples.
type counter struct {
	mu       sync.Mutex
	messages int
	samples  int
}

func (c *counter) advance(size int) int {
	c.messages++
	c.samples += size
	return c.messages
}

// Count returns messages and samples metrics.
func (c *counter) Count() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages, c.samples
}

// Fail configures error injection.
type Fail struct {
	// ErrorOnCall is returned by the call number ErrorAfter+1 and all
	// subsequent ones.
	ErrorOnCall error
	ErrorAfter  int
	// ErrorOnClose is returned by Close.
	ErrorOnClose error
}

func (f Fail) call(n int) error {
	if f.ErrorOnCall != nil && n > f.ErrorAfter {
		return f.ErrorOnCall
	}
	return nil
}

// Hooks records lifecycle calls.
type Hooks struct {
	mu     sync.Mutex
	closed bool
	Fail
	// Release, if set, blocks Close until it's closed.
	Release <-chan struct{}
}

// Close implements io.Closer.
func (h *Hooks) Close() error {
	if h.Release != nil {
		<-h.Release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return h.ErrorOnClose
}

// Closed reports if Close was called.
func (h *Hooks) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Effect mocks rtmix.Effect and rtmix.Editor.
type Effect struct {
	counter
	Hooks
	// Stamp writes buffer sequence number into every sample, otherwise
	// samples are set to Value.
	Stamp bool
	Value float32
	// Delay is spent in every ProcessReplacing call.
	Delay time.Duration

	events  []midi.Event
	drained []midi.Event
	editor  bool
}

// ProcessEvent implements rtmix.Effect.
func (m *Effect) ProcessEvent(timeUs int64, events midi.Source) error {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	m.drained = events.Drain(timeUs, m.drained[:0])
	m.events = append(m.events, m.drained...)
	return nil
}

// ProcessReplacing implements rtmix.Effect.
func (m *Effect) ProcessReplacing(ctx context.Context, _ int64, block *pool.Buffer[signal.Planar]) error {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	planar := block.Payload()
	m.counter.mu.Lock()
	n := m.advance(planar.Size())
	m.counter.mu.Unlock()
	if err := m.call(n); err != nil {
		return err
	}
	v := m.Value
	if m.Stamp {
		v = float32(block.Seq)
	}
	for _, ch := range planar {
		for i := range ch {
			ch[i] = v
		}
	}
	return nil
}

// Events returns all events drained by effect.
func (m *Effect) Events() []midi.Event {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	return append([]midi.Event(nil), m.events...)
}

// OpenEditor implements rtmix.Editor.
func (m *Effect) OpenEditor() error {
	m.Hooks.mu.Lock()
	defer m.Hooks.mu.Unlock()
	m.editor = true
	return nil
}

// CloseEditor implements rtmix.Editor.
func (m *Effect) CloseEditor() error {
	m.Hooks.mu.Lock()
	defer m.Hooks.mu.Unlock()
	m.editor = false
	return nil
}

// EditorOpen reports if editor is open.
func (m *Effect) EditorOpen() bool {
	m.Hooks.mu.Lock()
	defer m.Hooks.mu.Unlock()
	return m.editor
}

// PlainEffect mocks effect without editor.
type PlainEffect struct {
	Effect *Effect
}

// ProcessEvent implements rtmix.Effect.
func (m PlainEffect) ProcessEvent(timeUs int64, events midi.Source) error {
	return m.Effect.ProcessEvent(timeUs, events)
}

// ProcessReplacing implements rtmix.Effect.
func (m PlainEffect) ProcessReplacing(ctx context.Context, timeUs int64, block *pool.Buffer[signal.Planar]) error {
	return m.Effect.ProcessReplacing(ctx, timeUs, block)
}

// Output mocks rtmix.Output. It records the first sample of every block.
type Output struct {
	counter
	Hooks
	values []float32
}

// Write implements rtmix.Output.
func (m *Output) Write(pcm signal.PCM) error {
	m.counter.mu.Lock()
	n := m.advance(pcm.Size())
	if len(pcm.Data) > 0 {
		m.values = append(m.values, pcm.Data[0])
	}
	m.counter.mu.Unlock()
	return m.call(n)
}

// Values returns first samples of written blocks.
func (m *Output) Values() []float32 {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	return append([]float32(nil), m.values...)
}

// AudioEncoder mocks rtmix.AudioEncoder. Packet carries the first
// byte of every sample.
type AudioEncoder struct {
	counter
	Hooks
}

// PacketSize implements rtmix.AudioEncoder.
func (m *AudioEncoder) PacketSize(blockSize, numChannels int) int {
	return blockSize * numChannels
}

// Encode implements rtmix.AudioEncoder.
func (m *AudioEncoder) Encode(in signal.PCM, out *signal.Packet) error {
	m.counter.mu.Lock()
	n := m.advance(in.Size())
	m.counter.mu.Unlock()
	if err := m.call(n); err != nil {
		return err
	}
	for i, v := range in.Data {
		out.Data[i] = byte(v)
	}
	out.Len = len(in.Data)
	return nil
}

// VideoEncoder mocks rtmix.VideoEncoder.
type VideoEncoder struct {
	counter
	Hooks
	keyframes int
}

// PacketSize implements rtmix.VideoEncoder.
func (m *VideoEncoder) PacketSize(width, height int) int {
	return 4
}

// Encode implements rtmix.VideoEncoder.
func (m *VideoEncoder) Encode(in signal.Frame, out *signal.Packet, keyframe bool) error {
	m.counter.mu.Lock()
	n := m.advance(1)
	if keyframe {
		m.keyframes++
	}
	m.counter.mu.Unlock()
	if err := m.call(n); err != nil {
		return err
	}
	c := in.RGBAAt(0, 0)
	out.Data[0], out.Data[1], out.Data[2], out.Data[3] = c.R, c.G, c.B, c.A
	out.Len = 4
	return nil
}

// Keyframes returns the number of requested keyframes.
func (m *VideoEncoder) Keyframes() int {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	return m.keyframes
}

// Visualizer mocks rtmix.Visualizer.
type Visualizer struct {
	counter
	Hooks
	notes    []midi.Event
	rendered int
}

// Accumulate implements rtmix.Visualizer.
func (m *Visualizer) Accumulate(pcm signal.PCM) {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	m.advance(pcm.Size())
}

// Note implements rtmix.Visualizer.
func (m *Visualizer) Note(e midi.Event) {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	m.notes = append(m.notes, e)
}

// Render implements rtmix.Visualizer. Frame is filled with the number of
// accumulated blocks.
func (m *Visualizer) Render(f signal.Frame) {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	m.rendered++
	f.SetRGBA(0, 0, color.RGBA{R: uint8(m.messages), A: 0xff})
}

// Notes returns received MIDI events.
func (m *Visualizer) Notes() []midi.Event {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	return append([]midi.Event(nil), m.notes...)
}

// Rendered returns the number of rendered frames.
func (m *Visualizer) Rendered() int {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	return m.rendered
}

// Ingest mocks rtmix.Ingest.
type Ingest struct {
	counter
	Hooks
	ErrorOnConnect error
	// Stall blocks every send until ctx is done.
	Stall bool
	units []ingest.Unit
}

// Connect implements rtmix.Ingest.
func (m *Ingest) Connect(context.Context) error {
	return m.ErrorOnConnect
}

// Send implements rtmix.Ingest. Payload is copied.
func (m *Ingest) Send(ctx context.Context, u ingest.Unit) error {
	if m.Stall {
		<-ctx.Done()
		return ctx.Err()
	}
	m.counter.mu.Lock()
	n := m.advance(len(u.Payload))
	u.Payload = append([]byte(nil), u.Payload...)
	m.units = append(m.units, u)
	m.counter.mu.Unlock()
	return m.call(n)
}

// Units returns all sent units of provided kind.
func (m *Ingest) Units(kind ingest.Kind) []ingest.Unit {
	m.counter.mu.Lock()
	defer m.counter.mu.Unlock()
	var units []ingest.Unit
	for _, u := range m.units {
		if u.Kind == kind {
			units = append(units, u)
		}
	}
	return units
}

// Set holds mocks for all collaborators.
type Set struct {
	Effect       *Effect
	Output       *Output
	AudioEncoder *AudioEncoder
	VideoEncoder *VideoEncoder
	Visualizer   *Visualizer
	Ingest       *Ingest
	// NoEditor hides editor of the effect.
	NoEditor bool
}

// NewSet returns set of zero mocks.
func NewSet() *Set {
	return &Set{
		Effect:       &Effect{},
		Output:       &Output{},
		AudioEncoder: &AudioEncoder{},
		VideoEncoder: &VideoEncoder{},
		Visualizer:   &Visualizer{},
		Ingest:       &Ingest{},
	}
}

// Components returns factories that always return mocks of the set.
func (s *Set) Components() rtmix.Components {
	return rtmix.Components{
		Effect: func(context.Context, config.Config, *shm.Segment, shm.Layout) (rtmix.Effect, error) {
			if s.NoEditor {
				return PlainEffect{s.Effect}, nil
			}
			return s.Effect, nil
		},
		AudioEncoder: func(config.Config) (rtmix.AudioEncoder, error) {
			return s.AudioEncoder, nil
		},
		VideoEncoder: func(config.Config) (rtmix.VideoEncoder, error) {
			return s.VideoEncoder, nil
		},
		Visualizer: func(config.Config) (rtmix.Visualizer, error) {
			return s.Visualizer, nil
		},
		Ingest: func(config.Config) (rtmix.Ingest, error) {
			return s.Ingest, nil
		},
		Output: func(config.Config) (rtmix.Output, error) {
			return s.Output, nil
		},
	}
}
