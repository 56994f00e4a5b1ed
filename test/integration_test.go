package test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/omochice/framechat/internal/client"
	"github.com/omochice/framechat/internal/server"
	"github.com/omochice/framechat/internal/sink"
	"github.com/omochice/framechat/internal/transcript"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New("127.0.0.1:0")
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv
}

func connectClient(t *testing.T, address string, opts ...client.Option) (*client.Client, *transcript.Store) {
	t.Helper()
	store := transcript.New()
	c := client.New(store, opts...)
	require.NoError(t, c.Connect(context.Background(), address))
	t.Cleanup(c.Disconnect)
	return c, store
}

func contains(store *transcript.Store, line string) func() bool {
	return func() bool {
		for _, l := range store.Lines() {
			if l == line {
				return true
			}
		}
		return false
	}
}

// TestIntegration_TextBetweenClients tests end-to-end text delivery through
// the relay.
func TestIntegration_TextBetweenClients(t *testing.T) {
	srv := startServer(t)

	alice, aliceLog := connectClient(t, srv.Addr())
	_, bobLog := connectClient(t, srv.Addr())
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.SendText(context.Background(), "Meow: hi"))

	require.Eventually(t, contains(bobLog, "Meow: hi"), waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"Meow: hi"}, aliceLog.Lines(), "the relay does not echo to the sender")
}

// TestIntegration_ImageAcrossTransports sends a payload from a TCP client
// to a WebSocket client and checks it lands in the receiver's download
// directory intact.
func TestIntegration_ImageAcrossTransports(t *testing.T) {
	srv := startServer(t)

	downloads, err := sink.NewDir(filepath.Join(t.TempDir(), "downloads"))
	require.NoError(t, err)

	sender, senderLog := connectClient(t, srv.Addr())
	_, receiverLog := connectClient(t, "ws://"+srv.Addr()+"/ws", client.WithSink(downloads))
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, waitFor, 10*time.Millisecond)

	payload := bytes.Repeat([]byte("framechat"), 200_000)
	require.NoError(t, sender.SendPayload(context.Background(), protocol.FrameTypeImage, "a.jpg", payload))
	assert.Contains(t, senderLog.Lines(), "Sent IMAGE: a.jpg")

	require.Eventually(t, contains(receiverLog, "Image received: a.jpg"), waitFor, 10*time.Millisecond)

	records, err := downloads.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "images/a.jpg", records[0].Path)
	assert.Equal(t, int64(len(payload)), records[0].Size)
}

// TestIntegration_ServerStopEndsSessions checks that clients notice the
// relay going away.
func TestIntegration_ServerStopEndsSessions(t *testing.T) {
	srv := server.New("127.0.0.1:0")
	require.NoError(t, srv.Listen())
	go srv.Serve()

	c, log := connectClient(t, srv.Addr())
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, waitFor, 10*time.Millisecond)

	srv.Stop()

	require.Eventually(t, func() bool { return c.State() == client.StateDisconnected }, waitFor, 10*time.Millisecond)
	require.NotEmpty(t, log.Lines())
	assert.Equal(t, "Connection closed by peer", log.Lines()[0])

	err := c.SendText(context.Background(), "anyone?")
	assert.ErrorIs(t, err, client.ErrNotConnected)
}
