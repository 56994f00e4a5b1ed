// Package ws carries the frame stream inside WebSocket binary messages
// using gobwas/ws.
package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Path is the HTTP path the relay server upgrades.
const Path = "/ws"

const closeWriteTimeout = time.Second

// Conn adapts a WebSocket connection to transport.Conn. Each Write is sent
// as one binary message; Read flattens incoming binary messages back into a
// byte stream.
type Conn struct {
	conn          net.Conn
	w             *lockedWriter
	rw            io.ReadWriter
	state         ws.State
	readBuffer    []byte
	readBufferPos int
	mu            sync.Mutex
}

// lockedWriter serializes data messages with the control replies (pong,
// close) the reader sends while handling incoming frames.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// NewClientConn wraps the client side of an established WebSocket. br may
// hold frames the server sent right after the handshake; it can be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *Conn {
	return newConn(conn, br, ws.StateClientSide)
}

// NewServerConn wraps the server side of an upgraded WebSocket. reader is
// the buffered reader the upgrade was performed on, or nil.
func NewServerConn(conn net.Conn, reader io.Reader) *Conn {
	return newConn(conn, reader, ws.StateServerSide)
}

func newConn(conn net.Conn, reader io.Reader, state ws.State) *Conn {
	if reader == nil {
		reader = conn
	}
	w := &lockedWriter{w: conn}
	rw := struct {
		io.Reader
		io.Writer
	}{reader, w}
	return &Conn{conn: conn, w: w, rw: rw, state: state}
}

// Dial performs the WebSocket handshake with url.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Conn, error) {
	d := ws.Dialer{Timeout: timeout}
	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClientConn(conn, br), nil
}

// Upgrade performs the server side of the handshake, reading the request
// through reader, and rejects any path other than Path.
func Upgrade(conn net.Conn, reader io.Reader) (*Conn, error) {
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if string(uri) != Path {
				return ws.RejectConnectionError(ws.RejectionStatus(404))
			}
			return nil
		},
	}
	rw := struct {
		io.Reader
		io.Writer
	}{reader, conn}
	if _, err := u.Upgrade(rw); err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewServerConn(conn, reader), nil
}

// Read implements transport.Conn. A close message from the peer reads as
// io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readBufferPos < len(c.readBuffer) {
		return c.drain(p), nil
	}

	var (
		data []byte
		err  error
	)
	for len(data) == 0 {
		if c.state.ClientSide() {
			data, err = wsutil.ReadServerBinary(c.rw)
		} else {
			data, err = wsutil.ReadClientBinary(c.rw)
		}
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
	}

	c.readBuffer = data
	c.readBufferPos = 0
	return c.drain(p), nil
}

func (c *Conn) drain(p []byte) int {
	n := copy(p, c.readBuffer[c.readBufferPos:])
	c.readBufferPos += n
	if c.readBufferPos >= len(c.readBuffer) {
		c.readBuffer = nil
		c.readBufferPos = 0
	}
	return n
}

// Write implements transport.Conn.
func (c *Conn) Write(p []byte) (int, error) {
	var err error
	if c.state.ClientSide() {
		// Client frames are masked in place; never touch the caller's slice.
		buf := make([]byte, len(p))
		copy(buf, p)
		err = wsutil.WriteClientBinary(c.w, buf)
	} else {
		err = wsutil.WriteServerBinary(c.w, p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close message and closes the connection. The close message
// is skipped when a write is in progress, so Close never waits on a stalled
// peer.
func (c *Conn) Close() error {
	if c.w.mu.TryLock() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if c.state.ClientSide() {
			_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		} else {
			_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
		}
		c.w.mu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
