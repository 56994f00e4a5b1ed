package client

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/omochice/framechat/internal/transport"
	"github.com/omochice/framechat/pkg/protocol"
)

// State is the lifecycle state of a client's connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one live transport. Writes are serialized so that frames
// from concurrent senders never interleave on the wire.
type Session struct {
	id     string
	conn   transport.Conn
	dec    *protocol.Decoder
	logger *slog.Logger

	writeMu sync.Mutex
	w       *bufio.Writer

	abortMu sync.Mutex
	aborted error

	// storing is set while the receive loop is inside Sink.Store.
	storing atomic.Bool

	closeOnce sync.Once
	closeErr  error

	// done is closed when the session's receive loop has finished.
	done chan struct{}
	stop func() bool
}

func newSession(conn transport.Conn, maxPayload int64, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		dec:    protocol.NewDecoder(bufio.NewReader(conn), protocol.WithMaxPayload(maxPayload)),
		logger: logger.With("session", id, "remote", conn.RemoteAddr()),
		w:      bufio.NewWriter(conn),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Done is closed once the session's receive loop has ended and the
// transport is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WriteFrame encodes f and flushes it to the transport. An encoding error
// leaves the stream untouched. A write error leaves a partial frame on the
// stream, so the transport is closed and every later write fails.
func (s *Session) WriteFrame(f protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if cause := s.writeFailure(); cause != nil {
		return fmt.Errorf("%w: connection aborted: %w", protocol.ErrIO, cause)
	}

	err := f.Encode(s.w)
	if err == nil {
		if ferr := s.w.Flush(); ferr != nil {
			err = fmt.Errorf("%w: %w", protocol.ErrIO, ferr)
		}
	}
	if err != nil && !errors.Is(err, protocol.ErrEncoding) {
		s.abortMu.Lock()
		s.aborted = err
		s.abortMu.Unlock()
		s.logger.Warn("Write failed, closing connection", "error", err)
		s.close()
	}
	return err
}

// ReadFrame blocks until the next complete frame arrives.
func (s *Session) ReadFrame() (protocol.Frame, error) {
	return s.dec.Decode()
}

// writeFailure returns the write error that closed the transport, if any.
func (s *Session) writeFailure() error {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	return s.aborted
}

// close closes the transport once. Later calls return the first result.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
