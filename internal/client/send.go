package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/omochice/framechat/internal/source"
	"github.com/omochice/framechat/pkg/protocol"
)

// SendText writes a text frame. On success body is echoed to the
// transcript; on failure an error line is appended instead.
func (c *Client) SendText(ctx context.Context, body string) error {
	if err := c.write(ctx, protocol.TextFrame(body)); err != nil {
		c.store.Appendf("Error sending message: %v", err)
		return err
	}
	c.store.Append(body)
	return nil
}

// SendPayload writes a payload frame of type ft.
func (c *Client) SendPayload(ctx context.Context, ft protocol.FrameType, name string, data []byte) error {
	if err := c.sendPayload(ctx, ft, name, data); err != nil {
		c.store.Appendf("%s: %v", sendErrorPrefix(ft), err)
		return err
	}
	return nil
}

// SendFile reads locator from src and sends it as ft.
func (c *Client) SendFile(ctx context.Context, src Source, locator string, ft protocol.FrameType) error {
	name, data, err := src.Read(ctx, locator)
	if err == nil {
		err = c.sendPayload(ctx, ft, c.nameOr(name), data)
	} else {
		err = sourceErr(err)
	}
	if err != nil {
		c.store.Appendf("%s: %v", sendErrorPrefix(ft), err)
		return err
	}
	return nil
}

// SendVoice sends the recorder's finished clip.
func (c *Client) SendVoice(ctx context.Context, rec Recorder) error {
	name, data, err := rec.FinishedRecording(ctx)
	if err == nil {
		err = c.sendPayload(ctx, protocol.FrameTypeVoice, c.nameOr(name), data)
	} else {
		err = sourceErr(err)
	}
	if err != nil {
		c.store.Appendf("Error sending voice: %v", err)
		return err
	}
	return nil
}

func (c *Client) sendPayload(ctx context.Context, ft protocol.FrameType, name string, data []byte) error {
	if !ft.IsPayload() {
		return fmt.Errorf("%w: %s is not a payload type", protocol.ErrEncoding, ft)
	}
	if int64(len(data)) > c.maxPayload {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", protocol.ErrPayloadTooLarge, len(data), c.maxPayload)
	}
	if err := c.write(ctx, protocol.PayloadFrame(ft, name, data)); err != nil {
		return err
	}
	c.store.Appendf("Sent %s: %s", ft, name)
	return nil
}

func (c *Client) write(ctx context.Context, f protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := c.openSession()
	if err != nil {
		return err
	}
	if err := s.WriteFrame(f); err != nil {
		s.logger.Warn("Failed to send frame", "type", f.Type.String(), "error", err)
		return err
	}
	return nil
}

// nameOr substitutes the fallback for a source that could not name its
// payload.
func (c *Client) nameOr(name string) string {
	if name == "" {
		return source.FallbackName(c.now())
	}
	return name
}

func sendErrorPrefix(ft protocol.FrameType) string {
	if ft == protocol.FrameTypeVoice {
		return "Error sending voice"
	}
	return "Error sending file"
}

func sourceErr(err error) error {
	if errors.Is(err, ErrSource) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSource, err)
}
