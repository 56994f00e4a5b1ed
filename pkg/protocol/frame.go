// Package protocol implements the framing shared by the chat client and its
// server: text messages and typed binary payloads multiplexed on one stream.
//
// A text frame is a single string field holding "TEXT:" followed by the body.
// A payload frame is a tag field ("FILE:", "IMAGE:" or "VOICE:"), a name
// field, an 8-byte big-endian length and then exactly that many raw bytes.
// String fields are a 2-byte big-endian byte count followed by modified UTF-8.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxPayload bounds the payload length a Decoder accepts unless
// configured otherwise.
const DefaultMaxPayload int64 = 64 << 20

// FrameType represents the type of frame
type FrameType int

const (
	FrameTypeText FrameType = iota
	FrameTypeFile
	FrameTypeImage
	FrameTypeVoice
)

// String returns the wire name of the FrameType
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeText:
		return "TEXT"
	case FrameTypeFile:
		return "FILE"
	case FrameTypeImage:
		return "IMAGE"
	case FrameTypeVoice:
		return "VOICE"
	default:
		return "UNKNOWN"
	}
}

// Label returns the display name used in transcript lines.
func (ft FrameType) Label() string {
	switch ft {
	case FrameTypeText:
		return "Text"
	case FrameTypeFile:
		return "File"
	case FrameTypeImage:
		return "Image"
	case FrameTypeVoice:
		return "Voice"
	default:
		return "Unknown"
	}
}

// IsPayload reports whether frames of this type carry binary data.
func (ft FrameType) IsPayload() bool {
	return ft == FrameTypeFile || ft == FrameTypeImage || ft == FrameTypeVoice
}

// ParseFrameType maps a wire name or display label, in any case, to a
// FrameType.
func ParseFrameType(s string) (FrameType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TEXT":
		return FrameTypeText, nil
	case "FILE":
		return FrameTypeFile, nil
	case "IMAGE":
		return FrameTypeImage, nil
	case "VOICE":
		return FrameTypeVoice, nil
	default:
		return 0, fmt.Errorf("unknown frame type %q", s)
	}
}

func (ft FrameType) tag() string {
	return ft.String() + ":"
}

// Frame is one protocol unit. Body is set for text frames; Name and Data
// for payload frames.
type Frame struct {
	Type FrameType
	Body string
	Name string
	Data []byte
}

// TextFrame builds a text frame.
func TextFrame(body string) Frame {
	return Frame{Type: FrameTypeText, Body: body}
}

// PayloadFrame builds a payload frame of the given type.
func PayloadFrame(ft FrameType, name string, data []byte) Frame {
	return Frame{Type: ft, Name: name, Data: data}
}

// header encodes every byte of the frame that precedes the payload data.
// All validation happens here, so a failure leaves the stream untouched.
func (f *Frame) header() ([]byte, error) {
	switch {
	case f.Type == FrameTypeText:
		return appendField(nil, f.Type.tag()+f.Body)
	case f.Type.IsPayload():
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s frame has an empty name", ErrEncoding, f.Type)
		}
		buf, err := appendField(nil, f.Type.tag())
		if err != nil {
			return nil, err
		}
		if buf, err = appendField(buf, f.Name); err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint64(buf, uint64(len(f.Data))), nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrEncoding, f.Type)
	}
}

// Encode writes the frame to w. Encoding problems are reported with
// ErrEncoding before anything is written; a failed write is reported with
// ErrIO and leaves w holding a partial frame.
func (f *Frame) Encode(w io.Writer) error {
	hdr, err := f.header()
	if err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if f.Type.IsPayload() && len(f.Data) > 0 {
		if _, err := w.Write(f.Data); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	return nil
}

// Decode reads one frame from r with the default payload limit.
func (f *Frame) Decode(r io.Reader) error {
	got, err := NewDecoder(r).Decode()
	if err != nil {
		return err
	}
	*f = got
	return nil
}

// Decoder reads consecutive frames from a stream. It issues small reads for
// field headers, so callers reading from a socket should hand it a
// buffered reader.
type Decoder struct {
	r          io.Reader
	maxPayload int64
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxPayload sets the largest payload length the decoder accepts.
// Non-positive values leave the default in place.
func WithMaxPayload(n int64) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxPayload = n
		}
	}
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r, maxPayload: DefaultMaxPayload}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode blocks until a complete frame has been read.
//
// End of stream before the first tag byte yields an error matching both
// ErrFraming and io.EOF; end of stream anywhere later matches
// io.ErrUnexpectedEOF instead. No payload is returned unless all of its
// declared bytes arrived.
func (d *Decoder) Decode() (Frame, error) {
	tag, err := readField(d.r, false)
	if err != nil {
		return Frame{}, err
	}

	if body, ok := strings.CutPrefix(tag, FrameTypeText.tag()); ok {
		return TextFrame(body), nil
	}

	ft, ok := payloadType(tag)
	if !ok {
		return Frame{}, fmt.Errorf("%w: unrecognized tag %q", ErrFraming, truncate(tag, 32))
	}

	name, err := readField(d.r, true)
	if err != nil {
		return Frame{}, err
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return Frame{}, readErr(unexpected(err))
	}
	length := int64(binary.BigEndian.Uint64(lenBuf[:]))
	if length < 0 {
		return Frame{}, fmt.Errorf("%w: negative payload length %d", ErrFraming, length)
	}
	if length > d.maxPayload {
		return Frame{}, fmt.Errorf("%w: %w: %d bytes declared, limit %d", ErrFraming, ErrPayloadTooLarge, length, d.maxPayload)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return Frame{}, readErr(unexpected(err))
	}
	return PayloadFrame(ft, name, data), nil
}

func payloadType(tag string) (FrameType, bool) {
	for _, ft := range []FrameType{FrameTypeFile, FrameTypeImage, FrameTypeVoice} {
		if strings.HasPrefix(tag, ft.tag()) {
			return ft, true
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
