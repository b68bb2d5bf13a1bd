// Package ws provides websocket ingest. Every frame is sent as a single
// binary message.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pipelined.dev/rtmix/ingest"
)

// Ingest streams units to a websocket endpoint. It's safe for concurrent
// use: audio and video paths share the connection.
type Ingest struct {
	endpoint  string
	streamKey string
	timeout   time.Duration
	log       logrus.FieldLogger

	mu          sync.Mutex
	conn        *websocket.Conn
	framer      *ingest.Framer
	interrupted atomic.Bool
}

// New returns ingest for provided endpoint. Stream key, if not empty, is
// sent as bearer token.
func New(endpoint, streamKey string, timeout time.Duration, l logrus.FieldLogger) *Ingest {
	return &Ingest{
		endpoint:  endpoint,
		streamKey: streamKey,
		timeout:   timeout,
		log:       l,
		framer:    ingest.NewFramer(0),
	}
}

// Connect establishes the session.
func (i *Ingest) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	header := http.Header{}
	if i.streamKey != "" {
		header.Set("Authorization", "Bearer "+i.streamKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, i.endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s: %v: %s", ingest.ErrUnavailable, i.endpoint, err, resp.Status)
		}
		return fmt.Errorf("%w: %s: %v", ingest.ErrUnavailable, i.endpoint, err)
	}
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()
	i.log.WithField("endpoint", i.endpoint).Info("ingest connected")
	return nil
}

// Send writes the unit. Write is bounded by the ingest timeout. When ctx
// is done, blocked write is interrupted by closing the connection, since a
// partially written message leaves the stream unusable.
func (i *Ingest) Send(ctx context.Context, u ingest.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn == nil {
		return fmt.Errorf("%w: not connected", ingest.ErrUnavailable)
	}
	conn := i.conn
	stop := context.AfterFunc(ctx, func() {
		i.interrupted.Store(true)
		_ = conn.UnderlyingConn().Close()
	})
	defer stop()
	err := i.framer.Frames(u, func(frame []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(i.timeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	})
	return ingest.Cause(ctx, err)
}

// Close sends close message, unless a send was interrupted, and closes the
// connection.
func (i *Ingest) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn == nil {
		return nil
	}
	conn := i.conn
	i.conn = nil
	if !i.interrupted.Load() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(i.timeout))
	}
	// interrupted send closes the socket on its own
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
