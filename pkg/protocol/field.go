package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"
)

// maxFieldLen is the largest encoded size a string field can declare.
const maxFieldLen = 1<<16 - 1

// appendField appends s to dst as a string field: a 2-byte big-endian byte
// count followed by modified UTF-8, the fixed string format the peer reads.
func appendField(dst []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return dst, fmt.Errorf("%w: field is not valid UTF-8", ErrEncoding)
	}

	units := utf16.Encode([]rune(s))
	size := 0
	for _, u := range units {
		size += unitLen(u)
	}
	if size > maxFieldLen {
		return dst, fmt.Errorf("%w: field encodes to %d bytes, limit %d", ErrEncoding, size, maxFieldLen)
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(size))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			dst = append(dst, byte(u))
		case u < 0x800:
			// NUL lands here and becomes C0 80.
			dst = append(dst, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
		default:
			dst = append(dst, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
		}
	}
	return dst, nil
}

func unitLen(u uint16) int {
	switch {
	case u != 0 && u < 0x80:
		return 1
	case u < 0x800:
		return 2
	default:
		return 3
	}
}

// readField reads one string field from r. started tells whether the
// field is inside a frame that is already partly read.
func readField(r io.Reader, started bool) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if started {
			err = unexpected(err)
		}
		return "", readErr(err)
	}
	buf := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", readErr(unexpected(err))
	}
	return decodeModifiedUTF8(buf)
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", malformed(i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", malformed(i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", malformed(i)
		}
	}
	return string(utf16.Decode(units)), nil
}

func malformed(at int) error {
	return fmt.Errorf("%w: malformed string field at byte %d", ErrFraming, at)
}
