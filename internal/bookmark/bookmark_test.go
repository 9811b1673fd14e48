package bookmark

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFTPBookmarkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm.txt")

	b, err := LoadFTPBookmark(path)
	require.NoError(t, err)
	assert.False(t, b.Has("a.xml"))

	require.NoError(t, b.Append("a.xml", "20240101000000"))
	assert.True(t, b.Has("a.xml"))

	b2, err := LoadFTPBookmark(path)
	require.NoError(t, err)
	mtime, ok := b2.Get("a.xml")
	require.True(t, ok)
	assert.Equal(t, "20240101000000", mtime)
}

func TestFTPBookmarkRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm.txt")
	b, err := LoadFTPBookmark(path)
	require.NoError(t, err)

	require.NoError(t, b.Append("a.xml", "1"))
	require.NoError(t, b.Append("b.xml", "2"))

	require.NoError(t, b.Rewrite(map[string]string{"a.xml": "1"}))
	assert.True(t, b.Has("a.xml"))
	assert.False(t, b.Has("b.xml"))

	b2, err := LoadFTPBookmark(path)
	require.NoError(t, err)
	assert.True(t, b2.Has("a.xml"))
	assert.False(t, b2.Has("b.xml"))
}

func TestFileIncMaxStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incmax.txt")
	s := &FileIncMaxStore{Path: path}

	v, err := s.Load(context.Background(), "miner1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, s.Save(context.Background(), "miner1", 2500))
	v, err = s.Load(context.Background(), "miner1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), v)
}
