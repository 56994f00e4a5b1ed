package protocol

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFraming reports an unrecognized tag, a malformed field, or a stream
	// that ended mid-frame. The stream cannot be resynchronized afterwards.
	ErrFraming = errors.New("framing error")

	// ErrEncoding reports a frame that cannot be represented on the wire.
	// Nothing has been written when it is returned.
	ErrEncoding = errors.New("encoding error")

	// ErrIO reports a transport read or write failure.
	ErrIO = errors.New("i/o error")

	// ErrPayloadTooLarge reports a payload above the configured limit. A
	// decoder wraps it together with ErrFraming.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// readErr classifies a read failure: end of stream is a framing problem,
// anything else is the transport's.
func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrFraming, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// unexpected turns io.EOF into io.ErrUnexpectedEOF for reads that happen
// after a frame has started.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
