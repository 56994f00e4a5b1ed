package sink_test

import (
	"path/filepath"
	"testing"

	"github.com/omochice/framechat/internal/sink"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_StoreAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payloads.db")
	s, err := sink.OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, s.Store("a.jpg", []byte{0xFF, 0xD8, 0x00}, protocol.FrameTypeImage))
	require.NoError(t, s.Store("empty.txt", nil, protocol.FrameTypeFile))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.jpg", got[0].Name)
	assert.Equal(t, protocol.FrameTypeImage, got[0].Type)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x00}, got[0].Data)
	assert.Equal(t, protocol.FrameTypeFile, got[1].Type)
	assert.Empty(t, got[1].Data)
	require.NoError(t, s.Close())

	// Rows survive reopening the database.
	s, err = sink.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err = s.List()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
