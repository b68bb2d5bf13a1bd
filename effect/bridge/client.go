package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/shm"
	"pipelined.dev/rtmix/signal"
)

// ErrClosed is returned when client is used after Close or after its
// connection was interrupted.
var ErrClosed = errors.New("bridge client closed")

// Option configures client.
type Option func(*Client)

// WithLogger sets client logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithTimeout limits every round trip to the plugin host.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithSampleRate sets the sample rate announced to the plugin host.
func WithSampleRate(sr int) Option {
	return func(c *Client) {
		c.sampleRate = sr
	}
}

// Client is the effect rendered by the plugin host. It implements
// ProcessEvent, ProcessReplacing and the editor calls. Calls are
// serialized.
type Client struct {
	log        logrus.FieldLogger
	timeout    time.Duration
	sampleRate int

	mu     sync.Mutex
	conn   net.Conn
	wbuf   []byte
	rbuf   []byte
	events []midi.Event
	ctx    context.Context
	stop   func() bool
	err    error
}

// Dial connects to the plugin host listening on the unix socket and
// announces the segment. Host must be able to open the segment by name.
func Dial(ctx context.Context, socket string, seg *shm.Segment, l shm.Layout, opts ...Option) (*Client, error) {
	c := &Client{
		log:     logrus.StandardLogger(),
		timeout: 5 * time.Second,
		wbuf:    make([]byte, 0, bufferSize),
		rbuf:    make([]byte, bufferSize),
		events:  make([]midi.Event, 0, MaxEvents),
	}
	for _, option := range opts {
		option(c)
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial plugin host: %w", err)
	}
	c.conn = conn
	c.log = c.log.WithFields(logrus.Fields{
		"socket":  socket,
		"segment": seg.Name(),
	})

	c.wbuf = appendHello(c.wbuf[:0], Hello{
		Layout:     l,
		SlotSize:   seg.SlotSize(),
		SampleRate: c.sampleRate,
		Segment:    seg.Name(),
	})
	if err := c.roundTrip(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("plugin host hello: %w", err)
	}
	c.log.Info("plugin host connected")
	return c, nil
}

// ProcessEvent takes pending events received up to timeUs. They are sent
// to the host with the next block.
func (c *Client) ProcessEvent(timeUs int64, src midi.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = src.Drain(timeUs, c.events)
	if n := len(c.events); n > MaxEvents {
		c.log.WithField("dropped", n-MaxEvents).Warn("too many midi events in block")
		c.events = c.events[:MaxEvents]
	}
	return nil
}

// ProcessReplacing asks the host to render the block in place. The block
// must be a view of the announced segment.
func (c *Client) ProcessReplacing(ctx context.Context, timeUs int64, block *pool.Buffer[signal.Planar]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wbuf = appendProcess(c.wbuf[:0], process{
		slot:   block.Slot,
		timeUs: timeUs,
		events: c.events,
	})
	c.events = c.events[:0]
	return c.roundTrip(ctx)
}

// OpenEditor opens the plugin editor.
func (c *Client) OpenEditor() error {
	return c.call(opOpenEditor)
}

// CloseEditor closes the plugin editor.
func (c *Client) CloseEditor() error {
	return c.call(opCloseEditor)
}

func (c *Client) call(o op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wbuf = append(c.wbuf[:0], byte(o))
	if err := c.roundTrip(context.Background()); err != nil {
		return fmt.Errorf("%v: %w", o, err)
	}
	return nil
}

// roundTrip writes request and reads the reply. Must be called under the
// mutex.
func (c *Client) roundTrip(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	c.watch(ctx)
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.fail(err)
	}
	if _, err := c.conn.Write(c.wbuf); err != nil {
		return c.fail(c.cause(ctx, err))
	}
	if err := readReply(c.conn, c.rbuf); err != nil {
		if errors.Is(err, ErrRemote) {
			return err
		}
		return c.fail(c.cause(ctx, err))
	}
	return nil
}

// watch interrupts blocked round trip when ctx is done.
func (c *Client) watch(ctx context.Context) {
	if ctx == c.ctx || ctx.Done() == nil {
		return
	}
	if c.stop != nil {
		c.stop()
	}
	conn := c.conn
	c.ctx = ctx
	c.stop = context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

func (c *Client) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// fail breaks the connection, stream is out of sync after failed round
// trip.
func (c *Client) fail(err error) error {
	c.err = fmt.Errorf("%w: %w", ErrClosed, err)
	return err
}

// Close says bye to the host and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
	}
	if c.conn == nil {
		return nil
	}
	if c.err == nil {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
		_, _ = c.conn.Write([]byte{byte(opBye)})
	}
	err := c.conn.Close()
	c.conn = nil
	c.err = ErrClosed
	c.log.Info("plugin host disconnected")
	return err
}
