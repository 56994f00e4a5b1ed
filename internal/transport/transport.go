// Package transport defines the byte stream a chat session runs over and
// dials the concrete implementations.
package transport

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/omochice/framechat/internal/transport/tcp"
	"github.com/omochice/framechat/internal/transport/ws"
)

// Conn abstracts a bidirectional byte stream for both TCP and WebSocket.
// Frames are written and read as a continuous stream; message boundaries of
// the underlying transport carry no meaning.
type Conn interface {
	io.Reader
	io.Writer

	// Close closes the connection. A Read blocked on it returns promptly.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dial connects to address. Addresses starting with ws:// or wss:// are
// dialed as WebSocket endpoints; anything else is a TCP host:port.
func Dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	if IsWebSocket(address) {
		return ws.Dial(ctx, address, timeout)
	}
	return tcp.Dial(ctx, address, timeout)
}

// IsWebSocket reports whether address names a WebSocket endpoint.
func IsWebSocket(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}
