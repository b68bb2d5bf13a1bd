// Package udp provides datagram ingest. Units larger than a datagram are
// split into parts. Packets are marked with expedited forwarding DSCP.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"pipelined.dev/rtmix/ingest"
)

const (
	// MaxPayload is the payload size of a single datagram that fits into
	// common path MTU.
	MaxPayload = 1200
	// tosEF is the type-of-service byte of expedited forwarding class.
	tosEF = 0xb8
)

// Ingest streams units to udp endpoint. It's safe for concurrent use.
type Ingest struct {
	endpoint string
	timeout  time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	conn   net.Conn
	framer *ingest.Framer
}

// New returns ingest for provided host:port endpoint.
func New(endpoint string, timeout time.Duration, l logrus.FieldLogger) *Ingest {
	return &Ingest{
		endpoint: endpoint,
		timeout:  timeout,
		log:      l,
		framer:   ingest.NewFramer(MaxPayload),
	}
}

// Connect resolves the endpoint and binds local socket.
func (i *Ingest) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", i.endpoint)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ingest.ErrUnavailable, i.endpoint, err)
	}
	if err := ipv4.NewConn(conn).SetTOS(tosEF); err != nil {
		i.log.WithError(err).Debug("dscp marking not applied")
	}
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()
	i.log.WithField("endpoint", i.endpoint).Info("ingest connected")
	return nil
}

// Send writes all datagrams of the unit. Write is interrupted when ctx is
// done.
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
	if err := conn.SetWriteDeadline(time.Now().Add(i.timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	err := i.framer.Frames(u, func(frame []byte) error {
		_, err := conn.Write(frame)
		return err
	})
	return ingest.Cause(ctx, err)
}

// Close closes the socket.
func (i *Ingest) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn == nil {
		return nil
	}
	err := i.conn.Close()
	i.conn = nil
	return err
}
