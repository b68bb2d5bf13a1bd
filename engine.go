package rtmix

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/internal/state"
	"pipelined.dev/rtmix/midi"
)

// Engine owns the lifecycle of pipeline runs. At most one pipeline runs at
// a time and every Start builds a new one from configuration. Engine is
// safe for concurrent use.
type Engine struct {
	cfg        config.Config
	components Components
	options    options
	log        logrus.FieldLogger

	mu       sync.Mutex
	state    state.Machine
	pipeline *Pipeline
	cancel   context.CancelFunc
	stopped  chan struct{}

	// ended is closed under editMu when stages are done, before teardown.
	// Editor calls hold read lock, so teardown never overlaps them.
	editMu sync.RWMutex
	ended  chan struct{}

	faultMu sync.Mutex
	fault   error
}

// NewEngine validates configuration and returns idle engine.
func NewEngine(cfg config.Config, c Components, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.validate(cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	stopped := make(chan struct{})
	close(stopped)
	return &Engine{
		cfg:        cfg,
		components: c,
		options:    o,
		log:        o.log,
		stopped:    stopped,
		ended:      stopped,
	}, nil
}

// Start builds a new pipeline and runs it in background. It returns false
// if engine is already running. Build errors are returned and leave the
// engine idle.
func (e *Engine) Start() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reap()
	if err := e.state.Transition(state.Idle, state.Starting); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p, err := build(ctx, e.cfg, e.components, e.options)
	if err != nil {
		cancel()
		_ = e.state.Transition(state.Starting, state.Idle)
		e.log.WithError(err).Error("pipeline build failed")
		return false, err
	}
	e.setFault(nil)
	e.pipeline, e.cancel = p, cancel
	e.stopped = make(chan struct{})
	ended := make(chan struct{})
	e.ended = ended
	_ = e.state.Transition(state.Starting, state.Running)
	p.log.Info("pipeline started")

	go e.run(ctx, p, ended, e.stopped)
	return true, nil
}

func (e *Engine) run(ctx context.Context, p *Pipeline, ended, stopped chan struct{}) {
	defer close(stopped)
	err := p.Run(ctx)
	if err != nil {
		e.setFault(err)
	}
	e.editMu.Lock()
	close(ended)
	e.editMu.Unlock()
	if closeErr := p.Close(context.Background()); closeErr != nil {
		p.log.WithError(closeErr).Error("pipeline teardown failed")
		if err == nil {
			e.setFault(closeErr)
		}
	}
	p.log.WithField("faulted", err != nil).Info("pipeline stopped")
}

// reap moves engine to idle if its pipeline is done. Must be called under
// the engine mutex.
func (e *Engine) reap() {
	if e.state.Load() != state.Running {
		return
	}
	select {
	case <-e.stopped:
	default:
		return
	}
	_ = e.state.Transition(state.Running, state.Stopping)
	e.release()
}

// release forgets stopped pipeline.
func (e *Engine) release() {
	e.cancel()
	e.pipeline, e.cancel = nil, nil
	_ = e.state.Transition(state.Stopping, state.Idle)
}

// Cancel stops running pipeline and blocks until all its stages are done
// and resources released. It returns false if engine is not running.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reap()
	if err := e.state.Transition(state.Running, state.Stopping); err != nil {
		return false
	}
	e.cancel()
	<-e.stopped
	e.release()
	return true
}

// Done returns channel that is closed when the current run is over. If
// engine is idle, returned channel is closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// State returns the current engine state.
func (e *Engine) State() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reap()
	return e.state.Load()
}

// Running reports if engine has running pipeline.
func (e *Engine) Running() bool {
	return e.State() == state.Running
}

// Err returns the reason the last run ended. It's nil if run was
// cancelled or is still in progress.
func (e *Engine) Err() error {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	return e.fault
}

func (e *Engine) setFault(err error) {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	e.fault = err
}

// OpenEditor opens the editor of running effect.
func (e *Engine) OpenEditor() error {
	return e.editor(Editor.OpenEditor)
}

// CloseEditor closes the editor of running effect.
func (e *Engine) CloseEditor() error {
	return e.editor(Editor.CloseEditor)
}

func (e *Engine) editor(fn func(Editor) error) error {
	e.mu.Lock()
	e.reap()
	if e.state.Load() != state.Running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	effect, ended := e.pipeline.effect, e.ended
	e.mu.Unlock()

	e.editMu.RLock()
	defer e.editMu.RUnlock()
	select {
	case <-ended:
		// faulted run is being torn down
		return ErrNotRunning
	default:
	}
	ed, ok := effect.(Editor)
	if !ok {
		return ErrNoEditor
	}
	return fn(ed)
}

// PostMIDI delivers the event to running pipeline. It returns false if
// event was dropped.
func (e *Engine) PostMIDI(ev midi.Event) bool {
	return e.options.router.Post(ev)
}

// IsFault reports if err is a stage fault.
func IsFault(err error) bool {
	var f *StageFault
	return errors.As(err, &f)
}
