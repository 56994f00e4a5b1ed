package server

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "websocket"
	}
	return "tcp"
}

var httpPrefix = []byte("GET ")

// detectProtocol peeks at the first bytes to tell a WebSocket upgrade from
// a raw frame stream. A frame never starts with "GET ": its first field's
// tag begins with an upper-case kind name after the 2-byte length.
// A peer that sends nothing within timeout is treated as a raw stream,
// since a client may connect only to listen.
func detectProtocol(conn net.Conn, timeout time.Duration) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocolTCP, reader, err
	}
	peek, err := reader.Peek(len(httpPrefix))
	if rerr := conn.SetReadDeadline(time.Time{}); rerr != nil {
		return protocolTCP, reader, rerr
	}

	switch {
	case err == nil:
	case errors.Is(err, os.ErrDeadlineExceeded):
		// Too early to tell; only an unfinished "GET " is worth waiting for.
		if len(peek) > 0 && bytes.HasPrefix(httpPrefix, peek) {
			return protocolHTTP, reader, nil
		}
		return protocolTCP, reader, nil
	default:
		return protocolTCP, reader, err
	}

	if bytes.Equal(peek, httpPrefix) {
		return protocolHTTP, reader, nil
	}
	return protocolTCP, reader, nil
}
