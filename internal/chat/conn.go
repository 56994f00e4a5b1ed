// Package chat provides the relay's peer bookkeeping shared by all
// transports.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"github.com/omochice/framechat/internal/transport"
	"github.com/omochice/framechat/pkg/protocol"
)

// Conn carries whole frames for one peer, over TCP or WebSocket.
type Conn interface {
	// Read blocks until the next frame arrives.
	Read(ctx context.Context) (protocol.Frame, error)

	// Write sends a single frame.
	Write(ctx context.Context, f protocol.Frame) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// FrameConn adapts a transport byte stream to Conn.
type FrameConn struct {
	conn transport.Conn
	dec  *protocol.Decoder

	mu sync.Mutex
	w  *bufio.Writer
}

// NewFrameConn wraps conn. Inbound payloads larger than maxPayload end the
// stream with an error.
func NewFrameConn(conn transport.Conn, maxPayload int64) *FrameConn {
	return &FrameConn{
		conn: conn,
		dec:  protocol.NewDecoder(bufio.NewReader(conn), protocol.WithMaxPayload(maxPayload)),
		w:    bufio.NewWriter(conn),
	}
}

// Read implements Conn. The read is only interrupted by Close.
func (c *FrameConn) Read(ctx context.Context) (protocol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, err
	}
	return c.dec.Decode()
}

// Write implements Conn.
func (c *FrameConn) Write(ctx context.Context, f protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := f.Encode(c.w); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrIO, err)
	}
	return nil
}

// Close implements Conn.
func (c *FrameConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements Conn.
func (c *FrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr()
}
