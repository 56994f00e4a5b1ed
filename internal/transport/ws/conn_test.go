package ws_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/omochice/framechat/internal/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer accepts WebSocket peers and echoes their byte stream.
func startEchoServer(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				wc, err := ws.Upgrade(c, bufio.NewReader(c))
				if err != nil {
					return
				}
				io.Copy(wc, wc)
				wc.Close()
			}(conn)
		}
	}()

	return listener.Addr().String()
}

func TestConn_EchoStream(t *testing.T) {
	addr := startEchoServer(t)

	conn, err := ws.Dial(context.Background(), "ws://"+addr+ws.Path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = conn.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, len("hello world"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

func TestConn_WriteLeavesCallerBufferIntact(t *testing.T) {
	addr := startEchoServer(t)

	conn, err := ws.Dial(context.Background(), "ws://"+addr+ws.Path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("unmasked")
	_, err = conn.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, "unmasked", string(payload))

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestConn_SmallReadsAcrossMessages(t *testing.T) {
	addr := startEchoServer(t)

	conn, err := ws.Dial(context.Background(), "ws://"+addr+ws.Path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("abcdef"))
	require.NoError(t, err)

	var got []byte
	one := make([]byte, 1)
	for len(got) < 6 {
		n, err := conn.Read(one)
		require.NoError(t, err)
		got = append(got, one[:n]...)
	}
	assert.Equal(t, "abcdef", string(got))
}

func TestConn_PeerCloseReadsAsEOF(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		wc, err := ws.Upgrade(c, bufio.NewReader(c))
		if err != nil {
			c.Close()
			return
		}
		wc.Close()
	}()

	conn, err := ws.Dial(context.Background(), "ws://"+listener.Addr().String()+ws.Path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func TestUpgrade_RejectsOtherPaths(t *testing.T) {
	addr := startEchoServer(t)

	_, err := ws.Dial(context.Background(), "ws://"+addr+"/chat", time.Second)
	assert.Error(t, err)
}
