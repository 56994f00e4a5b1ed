// Package sink persists payloads received from the peer.
package sink

import (
	"log/slog"

	"github.com/omochice/framechat/pkg/protocol"
)

// Discard drops every payload. It is used when received files only need to
// show up in the transcript.
type Discard struct {
	Logger *slog.Logger
}

// Store implements the client's persistence sink.
func (d Discard) Store(name string, data []byte, ft protocol.FrameType) error {
	if d.Logger != nil {
		d.Logger.Debug("Discarding received payload", "name", name, "type", ft.String(), "bytes", len(data))
	}
	return nil
}
