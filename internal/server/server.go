// Package server implements a relay that accepts framechat peers over raw
// TCP and WebSocket on one port and forwards every frame it receives to all
// other connected peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/framechat/internal/chat"
	"github.com/omochice/framechat/internal/transport"
	"github.com/omochice/framechat/internal/transport/tcp"
	"github.com/omochice/framechat/internal/transport/ws"
	"github.com/omochice/framechat/pkg/protocol"
)

// ErrServerStopped is returned by Serve after Stop.
var ErrServerStopped = errors.New("server stopped")

const (
	defaultQueueSize     = 16
	defaultDetectTimeout = 300 * time.Millisecond
)

// Server is a single-port relay for TCP and WebSocket peers.
type Server struct {
	address       string
	listener      net.Listener
	hub           *chat.Hub
	logger        *slog.Logger
	maxPayload    int64
	queueSize     int
	detectTimeout time.Duration

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxPayload limits the payload size accepted from a peer. A peer that
// declares more is disconnected.
func WithMaxPayload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxPayload = n
		}
	}
}

// WithQueueSize sets how many frames may wait for a slow peer before new
// ones are dropped for it.
func WithQueueSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// New creates a new Server instance.
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:       address,
		logger:        slog.Default(),
		maxPayload:    protocol.DefaultMaxPayload,
		queueSize:     defaultQueueSize,
		detectTimeout: defaultDetectTimeout,
		quit:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = chat.NewHub(s.logger)
	return s
}

// Listen binds the server's address.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.logger.Info("Relay server started", "address", listener.Addr().String(), "path", ws.Path)
	return nil
}

// Serve accepts peers until Stop is called, then returns ErrServerStopped.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return ErrServerStopped
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Warn("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Start listens and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every peer, and waits for their handlers.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.hub.CloseAll()
	})
	s.wg.Wait()
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected peers.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// handleConnection determines whether the connection is a WebSocket upgrade
// or a raw frame stream.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	kind, reader, err := detectProtocol(conn, s.detectTimeout)
	if err != nil {
		s.logger.Warn("Failed to detect protocol", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	var tc transport.Conn
	switch kind {
	case protocolHTTP:
		wc, err := ws.Upgrade(conn, reader)
		if err != nil {
			s.logger.Warn("Failed to upgrade connection", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			return
		}
		tc = wc
	default:
		tc = tcp.NewConnWithReader(conn, reader)
	}

	s.servePeer(chat.NewFrameConn(tc, s.maxPayload), kind)
}

func (s *Server) servePeer(conn chat.Conn, kind protocolType) {
	client := &chat.Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Outgoing: make(chan protocol.Frame, s.queueSize),
	}
	logger := s.logger.With("client", client.ID, "remote", conn.RemoteAddr(), "transport", kind.String())

	s.hub.Register(client)
	select {
	case <-s.quit:
		// Stop may have closed the other peers before this one registered.
		conn.Close()
	default:
		logger.Info("Peer connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for f := range client.Outgoing {
			if err := conn.Write(ctx, f); err != nil {
				logger.Warn("Failed to send frame to peer", "error", err)
				conn.Close()
				return
			}
		}
	}()

	defer func() {
		s.hub.Unregister(client)
		// Closing first unblocks a writer stuck on a peer that stopped reading.
		conn.Close()
		close(client.Outgoing)
		<-writerDone
		logger.Info("Peer disconnected")
	}()

	for {
		f, err := conn.Read(ctx)
		if err != nil {
			if !(errors.Is(err, protocol.ErrFraming) && errors.Is(err, io.EOF)) {
				logger.Debug("Read from peer ended", "error", err)
			}
			return
		}

		if f.Type == protocol.FrameTypeText {
			logger.Debug("Relaying text", "bytes", len(f.Body))
		} else {
			logger.Debug("Relaying payload", "type", f.Type.String(), "name", f.Name, "bytes", len(f.Data))
		}
		s.hub.Broadcast(f, client)
	}
}
