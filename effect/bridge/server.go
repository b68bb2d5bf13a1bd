package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/shm"
	"pipelined.dev/rtmix/signal"
)

// ErrNoEditor is returned when processor has no editor.
var ErrNoEditor = errors.New("processor has no editor")

type (
	// Processor renders blocks in place. Events are pending MIDI events
	// received up to timeUs.
	Processor interface {
		Process(timeUs int64, events []midi.Event, block signal.Planar) error
	}

	// Editor is implemented by processors with GUI editor.
	Editor interface {
		OpenEditor() error
		CloseEditor() error
	}

	// Factory creates processor for a new session.
	Factory func(Hello) (Processor, error)
)

// Server is the plugin host side of the bridge. Every connection is a
// session with its own processor and segment mapping.
type Server struct {
	log     logrus.FieldLogger
	dir     string
	factory Factory
}

// ServerOption configures server.
type ServerOption func(*Server)

// WithServerLogger sets server logger.
func WithServerLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithSegmentDir sets directory where segments are opened.
func WithSegmentDir(dir string) ServerOption {
	return func(s *Server) {
		s.dir = dir
	}
}

// NewServer returns server that creates processors with factory.
func NewServer(factory Factory, opts ...ServerOption) *Server {
	s := &Server{
		log:     logrus.StandardLogger(),
		dir:     shm.DefaultDir,
		factory: factory,
	}
	for _, option := range opts {
		option(s)
	}
	return s
}

// Serve accepts sessions until ctx is done. Listener is closed when Serve
// returns. All sessions are finished before Serve returns.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		l.Close()
	})
	defer stop()

	s.log.WithField("addr", l.Addr().String()).Info("plugin host listening")
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.Close()
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

type session struct {
	log    logrus.FieldLogger
	conn   net.Conn
	seg    *shm.Segment
	views  []signal.Planar
	p      Processor
	rbuf   []byte
	wbuf   []byte
	req    process
	opbuf  [1]byte
	blocks int
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	ss := &session{
		log:  s.log,
		conn: conn,
		rbuf: make([]byte, bufferSize),
		wbuf: make([]byte, 0, bufferSize),
		req:  process{events: make([]midi.Event, 0, MaxEvents)},
	}
	if err := ss.hello(s); err != nil {
		ss.log.WithError(err).Error("session rejected")
		ss.reply(err)
		return
	}
	defer ss.close()
	ss.reply(nil)
	ss.log.Info("session started")

	if err := ss.loop(); err != nil && ctx.Err() == nil {
		ss.log.WithError(err).Error("session failed")
		return
	}
	ss.log.WithField("blocks", ss.blocks).Info("session done")
}

func (ss *session) hello(s *Server) error {
	o, err := ss.op()
	if err != nil {
		return err
	}
	if o != opHello {
		return fmt.Errorf("%w: expected hello, got %v", ErrProtocol, o)
	}
	h, err := readHello(ss.conn)
	if err != nil {
		return err
	}
	ss.log = ss.log.WithField("segment", h.Segment)
	seg, err := shm.Open(h.Segment, h.Layout, shm.WithDir(s.dir))
	if err != nil {
		return err
	}
	views := make([]signal.Planar, h.Layout.SlotCount)
	for i := range views {
		views[i] = seg.Planar(i, h.Layout)
	}
	p, err := s.factory(h)
	if err != nil {
		seg.Close()
		return fmt.Errorf("create processor: %w", err)
	}
	ss.seg, ss.views, ss.p = seg, views, p
	return nil
}

func (ss *session) op() (op, error) {
	if _, err := io.ReadFull(ss.conn, ss.opbuf[:]); err != nil {
		return 0, err
	}
	return op(ss.opbuf[0]), nil
}

// loop serves requests until bye. Processor errors are replied, protocol
// and connection errors end the session.
func (ss *session) loop() error {
	for {
		o, err := ss.op()
		if err != nil {
			return err
		}
		switch o {
		case opProcess:
			if err := readProcess(ss.conn, ss.rbuf, &ss.req); err != nil {
				return err
			}
			if ss.req.slot < 0 || ss.req.slot >= len(ss.views) {
				return fmt.Errorf("%w: slot %d of %d", ErrProtocol, ss.req.slot, len(ss.views))
			}
			ss.blocks++
			err = ss.p.Process(ss.req.timeUs, ss.req.events, ss.views[ss.req.slot])
		case opOpenEditor, opCloseEditor:
			err = ss.editor(o)
		case opBye:
			return nil
		default:
			return fmt.Errorf("%w: unexpected %v", ErrProtocol, o)
		}
		if err := ss.reply(err); err != nil {
			return err
		}
	}
}

func (ss *session) editor(o op) error {
	ed, ok := ss.p.(Editor)
	if !ok {
		return ErrNoEditor
	}
	if o == opOpenEditor {
		return ed.OpenEditor()
	}
	return ed.CloseEditor()
}

func (ss *session) reply(err error) error {
	ss.wbuf = appendReply(ss.wbuf[:0], err)
	_, werr := ss.conn.Write(ss.wbuf)
	return werr
}

func (ss *session) close() {
	if c, ok := ss.p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			ss.log.WithError(err).Error("close processor")
		}
	}
	if err := ss.seg.Close(); err != nil {
		ss.log.WithError(err).Error("close segment")
	}
}
