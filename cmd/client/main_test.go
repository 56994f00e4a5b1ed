package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omochice/framechat/internal/transcript"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	// Keep the user's config file out of the tests.
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// startPeer accepts one connection and decodes frames from it.
func startPeer(t *testing.T) (port string, frames <-chan protocol.Frame) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	ch := make(chan protocol.Frame, 16)
	go func() {
		defer close(ch)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := protocol.NewDecoder(bufio.NewReader(conn))
		for {
			f, err := dec.Decode()
			if err != nil {
				return
			}
			ch <- f
		}
	}()

	_, port, err = net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	return port, ch
}

func nextFrame(t *testing.T, frames <-chan protocol.Frame) protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "peer saw no frame")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Frame{}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "framechat version")
}

func TestSendCommand_Text(t *testing.T) {
	port, frames := startPeer(t)

	out, err := executeCommand(t, "", "send", "--server", "127.0.0.1", "--port", port,
		"--nickname", "Meow", "--sink", "discard", "hi", "there")
	require.NoError(t, err)

	f := nextFrame(t, frames)
	assert.Equal(t, protocol.FrameTypeText, f.Type)
	assert.Equal(t, "Meow: hi there", f.Body)
	assert.Contains(t, out, "Meow: hi there")
}

func TestSendCommand_Image(t *testing.T) {
	port, frames := startPeer(t)
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	out, err := executeCommand(t, "", "send", "--server", "127.0.0.1", "--port", port,
		"--sink", "discard", "--kind", "image", path)
	require.NoError(t, err)

	f := nextFrame(t, frames)
	assert.Equal(t, protocol.FrameTypeImage, f.Type)
	assert.Equal(t, "a.png", f.Name)
	assert.Equal(t, []byte("png"), f.Data)
	assert.Contains(t, out, "Sent IMAGE: a.png")
}

func TestSendCommand_MissingFile(t *testing.T) {
	port, _ := startPeer(t)

	out, err := executeCommand(t, "", "send", "--server", "127.0.0.1", "--port", port,
		"--sink", "discard", "--kind", "file", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, out, "Error sending file: ")
}

func TestSendCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no server", []string{"send", "hi"}},
		{"bad server", []string{"send", "--server", "256.1.1.1", "hi"}},
		{"bad kind", []string{"send", "--server", "127.0.0.1", "--kind", "video", "x"}},
		{"payload needs one path", []string{"send", "--server", "127.0.0.1", "--kind", "file", "a", "b"}},
		{"bad transport", []string{"send", "--server", "127.0.0.1", "--transport", "udp", "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, "", tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSendCommand_ConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(listener.Addr().String())
	listener.Close()

	out, err := executeCommand(t, "", "send", "--server", "127.0.0.1", "--port", port, "--sink", "discard", "hi")
	require.Error(t, err)
	assert.Contains(t, out, "Connection error: ")
}

func TestChatCommand(t *testing.T) {
	port, frames := startPeer(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("notes"), 0o644))

	input := fmt.Sprintf("hello\n\n/file %s\n/quit\nnot sent\n", path)
	out, err := executeCommand(t, input, "chat", "--server", "127.0.0.1", "--port", port, "--sink", "discard")
	require.NoError(t, err)

	first := nextFrame(t, frames)
	assert.Equal(t, "hello", first.Body)
	second := nextFrame(t, frames)
	assert.Equal(t, protocol.FrameTypeFile, second.Type)
	assert.Equal(t, "notes.txt", second.Name)

	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "Sent FILE: notes.txt")
	assert.NotContains(t, out, "not sent")
}

func TestWatchCommand_RequiresOutbox(t *testing.T) {
	_, err := executeCommand(t, "", "watch", "--server", "127.0.0.1")
	assert.ErrorContains(t, err, "outbox")
}

func TestRenderer(t *testing.T) {
	store := transcript.New()
	store.Append("hi")
	store.Append("Image received: a.jpg")

	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.write(store.Snapshot())
	store.Append("Error receiving message: boom")
	r.write(store.Snapshot())
	r.write(store.Snapshot())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "each entry is printed once")
	assert.True(t, strings.HasSuffix(lines[0], "hi"))
	assert.True(t, strings.HasSuffix(lines[1], "Image received: a.jpg"))
	assert.True(t, strings.HasSuffix(lines[2], "Error receiving message: boom"))
}

func TestLineClassification(t *testing.T) {
	tests := []struct {
		line   string
		error  bool
		status bool
	}{
		{"hello", false, false},
		{"Sent VOICE: v.mp3", false, true},
		{"File received: x", false, true},
		{"Connection closed by peer", false, true},
		{"Connection error: refused", true, false},
		{"Disconnect error: reset", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.error, isErrorLine(tt.line), tt.line)
		assert.Equal(t, tt.status, isStatusLine(tt.line), tt.line)
	}
}
