package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/omochice/framechat/pkg/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// ManifestName is the index file a Dir keeps in its root.
const ManifestName = "manifest.pb"

// Manifest record field numbers.
const (
	fieldName       protowire.Number = 1
	fieldType       protowire.Number = 2
	fieldSize       protowire.Number = 3
	fieldPath       protowire.Number = 4
	fieldReceivedAt protowire.Number = 5
)

// Record describes one stored payload.
type Record struct {
	Name       string
	Type       protocol.FrameType
	Size       int64
	Path       string // relative to the Dir root
	ReceivedAt time.Time
}

// Dir writes each payload to a file under root, grouped by type, and
// appends a Record to root/manifest.pb.
type Dir struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &Dir{root: root, now: time.Now}, nil
}

// Root returns the directory payloads are written to.
func (d *Dir) Root() string {
	return d.root
}

// Store writes data to a new file. An existing file with the same name is
// never overwritten; a numbered variant is chosen instead.
func (d *Dir) Store(name string, data []byte, ft protocol.FrameType) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := subdir(ft)
	if err := os.MkdirAll(filepath.Join(d.root, sub), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", sub, err)
	}

	rel, err := d.reserve(sub, sanitize(name))
	if err != nil {
		return err
	}
	full := filepath.Join(d.root, rel)

	tmp, err := os.CreateTemp(filepath.Join(d.root, sub), ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", rel, err)
	}

	return d.appendRecord(Record{
		Name:       name,
		Type:       ft,
		Size:       int64(len(data)),
		Path:       filepath.ToSlash(rel),
		ReceivedAt: d.now(),
	})
}

// reserve picks a relative path under sub that does not exist yet.
func (d *Dir) reserve(sub, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		rel := filepath.Join(sub, candidate)
		_, err := os.Lstat(filepath.Join(d.root, rel))
		if errors.Is(err, fs.ErrNotExist) {
			return rel, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", rel, err)
		}
	}
	return "", fmt.Errorf("no free file name for %q", name)
}

func (d *Dir) appendRecord(r Record) error {
	f, err := os.OpenFile(filepath.Join(d.root, ManifestName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(protowire.AppendBytes(nil, marshalRecord(r))); err != nil {
		return fmt.Errorf("failed to append manifest record: %w", err)
	}
	return nil
}

// Records reads the manifest back.
func (d *Dir) Records() ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.root, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a sequence of length-delimited records.
func ParseManifest(data []byte) ([]Record, error) {
	var records []Record
	for len(data) > 0 {
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return records, fmt.Errorf("corrupt manifest: %w", protowire.ParseError(n))
		}
		data = data[n:]

		r, err := unmarshalRecord(msg)
		if err != nil {
			return records, err
		}
		records = append(records, r)
	}
	return records, nil
}

func marshalRecord(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, r.Name)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Type))
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Size))
	b = protowire.AppendTag(b, fieldPath, protowire.BytesType)
	b = protowire.AppendString(b, r.Path)
	b = protowire.AppendTag(b, fieldReceivedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ReceivedAt.UnixMilli()))
	return b
}

func unmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("corrupt manifest record: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldName && typ == protowire.BytesType:
			r.Name, n = protowire.ConsumeString(b)
		case num == fieldPath && typ == protowire.BytesType:
			r.Path, n = protowire.ConsumeString(b)
		case num == fieldType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Type = protocol.FrameType(v)
		case num == fieldSize && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Size = int64(v)
		case num == fieldReceivedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.ReceivedAt = time.UnixMilli(int64(v))
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return r, fmt.Errorf("corrupt manifest record: %w", protowire.ParseError(n))
		}
		b = b[n:]
	}
	return r, nil
}

func subdir(ft protocol.FrameType) string {
	switch ft {
	case protocol.FrameTypeImage:
		return "images"
	case protocol.FrameTypeVoice:
		return "voice"
	default:
		return "files"
	}
}

// sanitize reduces a peer-supplied name to a single safe path element.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '/' {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "payload"
	}
	return name
}
