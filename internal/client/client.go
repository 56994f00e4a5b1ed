// Package client implements the chat client engine: one connection
// session, the background receive loop that turns incoming frames into
// transcript lines, and the send operations that write frames to the peer.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/framechat/internal/source"
	"github.com/omochice/framechat/internal/transcript"
	"github.com/omochice/framechat/internal/transport"
	"github.com/omochice/framechat/pkg/protocol"
)

var (
	// ErrConnect indicates the transport could not be established.
	ErrConnect = errors.New("connect error")
	// ErrNotConnected is returned by sends while no session is open.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect while a session exists.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrSource indicates a collaborator could not supply outbound bytes.
	ErrSource = source.ErrSource
)

// errConnectAborted reports a Disconnect that arrived while dialing.
var errConnectAborted = errors.New("disconnected while connecting")

// DefaultDialTimeout bounds how long Connect waits for the transport.
const DefaultDialTimeout = 10 * time.Second

// DialFunc opens a transport to address.
type DialFunc func(ctx context.Context, address string, timeout time.Duration) (transport.Conn, error)

// Sink persists payloads received from the peer. Store runs on the receive
// loop; a Disconnect issued from inside Store does not wait for the loop to
// finish, because the loop cannot finish until Store returns.
type Sink interface {
	Store(name string, data []byte, ft protocol.FrameType) error
}

// Source supplies the name and bytes of a stored file.
type Source interface {
	Read(ctx context.Context, locator string) (name string, data []byte, err error)
}

// Recorder supplies a finished voice recording.
type Recorder interface {
	FinishedRecording(ctx context.Context) (name string, data []byte, err error)
}

// Client drives at most one Session at a time and reports everything that
// happens on it to a transcript.Store.
type Client struct {
	store       *transcript.Store
	sink        Sink
	logger      *slog.Logger
	maxPayload  int64
	dialTimeout time.Duration
	dial        DialFunc
	now         func() time.Time

	mu          sync.Mutex
	state       State
	session     *Session
	cancelDial  context.CancelFunc
	dialAborted bool

	tasks sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithSink sets where received payloads are stored. The default discards
// them.
func WithSink(s Sink) Option {
	return func(c *Client) {
		c.sink = s
	}
}

// WithMaxPayload limits the payload size accepted from and sent to the peer.
func WithMaxPayload(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPayload = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithDialer replaces the transport dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// New creates a disconnected Client that appends to store.
func New(store *transcript.Store, opts ...Option) *Client {
	c := &Client{
		store:       store,
		sink:        discard{},
		logger:      slog.Default(),
		maxPayload:  protocol.DefaultMaxPayload,
		dialTimeout: DefaultDialTimeout,
		dial:        transport.Dial,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the open session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	return c.session
}

// Connect dials address and starts the receive loop. A failure is also
// appended to the transcript. Cancelling ctx after Connect returns
// disconnects the session. A Disconnect while dialing makes Connect fail
// with ErrConnect.
func (c *Client) Connect(ctx context.Context, address string) error {
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.cancelDial = cancelDial
	c.dialAborted = false
	c.mu.Unlock()

	conn, err := c.dial(dialCtx, address, c.dialTimeout)

	c.mu.Lock()
	c.cancelDial = nil
	if c.dialAborted {
		if err == nil {
			conn.Close()
		}
		err = errConnectAborted
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()

		c.store.Appendf("Connection error: %v", err)
		c.logger.Error("Failed to connect", "address", address, "error", err)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s := newSession(conn, c.maxPayload, c.logger)
	c.session = s
	c.state = StateOpen
	c.mu.Unlock()

	s.logger.Info("Connected", "address", address)
	s.stop = context.AfterFunc(ctx, c.Disconnect)
	go c.receive(s)
	return nil
}

// Disconnect closes the open session and waits for its receive loop to
// finish. While Connect is dialing it cancels the dial instead. It is safe
// to call at any time and from any goroutine. Close-time failures are
// appended to the transcript rather than returned.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.dialAborted = true
		c.cancelDial()
		c.mu.Unlock()
		return
	}
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	if c.state == StateOpen {
		c.state = StateClosing
		s.logger.Info("Disconnecting")
		// Unblocks the pending read; the receive loop tears down.
		s.close()
	}
	c.mu.Unlock()

	if s.storing.Load() {
		// Called from Sink.Store; the loop tears down once Store returns.
		return
	}
	<-s.done
}

// Go runs fn as an independent background task. Errors are already in the
// transcript, so they are only logged here.
func (c *Client) Go(ctx context.Context, fn func(ctx context.Context) error) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		if err := fn(ctx); err != nil {
			c.logger.Debug("Background send failed", "error", err)
		}
	}()
}

// Wait blocks until every task started with Go has returned.
func (c *Client) Wait() {
	c.tasks.Wait()
}

func (c *Client) receive(s *Session) {
	defer close(s.done)

	for {
		f, err := s.ReadFrame()
		if err != nil {
			c.receiveFailed(s, err)
			c.teardown(s)
			return
		}
		c.deliver(s, f)
	}
}

func (c *Client) deliver(s *Session, f protocol.Frame) {
	if f.Type == protocol.FrameTypeText {
		c.store.Append(f.Body)
		return
	}

	name := c.nameOr(f.Name)
	s.storing.Store(true)
	err := c.sink.Store(name, f.Data, f.Type)
	s.storing.Store(false)
	if err != nil {
		s.logger.Error("Failed to store received payload", "name", name, "type", f.Type.String(), "error", err)
	}
	c.store.Appendf("%s received: %s", f.Type.Label(), name)
}

func (c *Client) receiveFailed(s *Session, err error) {
	c.mu.Lock()
	closing := c.state == StateClosing
	if !closing {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if closing {
		// Disconnect closed the transport; the read error is expected.
		return
	}

	if cause := s.writeFailure(); cause != nil {
		err = cause
	}
	switch {
	case errors.Is(err, protocol.ErrFraming) && errors.Is(err, io.EOF):
		s.logger.Info("Connection closed by peer")
		c.store.Append("Connection closed by peer")
	default:
		s.logger.Error("Receive loop failed", "error", err)
		c.store.Appendf("Error receiving message: %v", err)
	}
}

func (c *Client) teardown(s *Session) {
	if s.stop != nil {
		s.stop()
	}
	err := s.close()

	c.mu.Lock()
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("Error closing connection", "error", err)
		c.store.Appendf("Disconnect error: %v", err)
	}
	s.logger.Info("Disconnected")
}

// openSession returns the open session or ErrNotConnected.
func (c *Client) openSession() (*Session, error) {
	if s := c.Session(); s != nil {
		return s, nil
	}
	return nil, ErrNotConnected
}

type discard struct{}

func (discard) Store(string, []byte, protocol.FrameType) error { return nil }
