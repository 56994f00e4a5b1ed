// Package source supplies outbound payload bytes: files picked from local
// storage and finished voice recordings.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omochice/framechat/pkg/protocol"
)

// ErrSource reports that a collaborator could not supply payload bytes.
var ErrSource = errors.New("source error")

// FallbackName names a payload whose origin has no usable file name.
func FallbackName(now time.Time) string {
	return fmt.Sprintf("file_%d", now.UnixMilli())
}

// Files reads payloads from the local file system. A locator is a path.
type Files struct {
	// MaxSize rejects files larger than this many bytes. Zero means
	// protocol.DefaultMaxPayload.
	MaxSize int64
}

// Read returns the base name and contents of the file at locator.
func (f Files) Read(ctx context.Context, locator string) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	if strings.TrimSpace(locator) == "" {
		return "", nil, fmt.Errorf("%w: empty locator", ErrSource)
	}

	info, err := os.Stat(locator)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%w: %s is a directory", ErrSource, locator)
	}
	limit := f.MaxSize
	if limit <= 0 {
		limit = protocol.DefaultMaxPayload
	}
	if info.Size() > limit {
		return "", nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSource, locator, info.Size(), limit)
	}

	data, err := os.ReadFile(locator)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	return nameOf(locator), data, nil
}

func nameOf(locator string) string {
	name := filepath.Base(filepath.Clean(locator))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return FallbackName(time.Now())
	}
	return name
}

// Recording is a voice clip the recorder has finished writing to Path.
type Recording struct {
	Path string
}

// FinishedRecording returns the clip's file name and encoded bytes.
func (r Recording) FinishedRecording(ctx context.Context) (string, []byte, error) {
	return Files{}.Read(ctx, r.Path)
}

var (
	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".bmp": true, ".heic": true,
	}
	voiceExts = map[string]bool{
		".mp3": true, ".m4a": true, ".aac": true, ".ogg": true,
		".opus": true, ".wav": true, ".amr": true, ".3gp": true,
	}
)

// Classify picks the payload type for a file by its extension.
func Classify(path string) protocol.FrameType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return protocol.FrameTypeImage
	case voiceExts[ext]:
		return protocol.FrameTypeVoice
	default:
		return protocol.FrameTypeFile
	}
}
