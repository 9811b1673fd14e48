package janitor

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepDeleteOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(dir, "old.log"), "old", now.Add(-10*24*time.Hour))
	touch(t, filepath.Join(dir, "new.log"), "new", now.Add(-1*time.Hour))

	err := Sweep(Config{Root: dir, GlobCSV: "*.log", AgeDays: 5, Mode: ModeDelete}, now, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "old.log"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "new.log"))
	assert.NoError(t, err)
}

func TestSweepCompressOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(dir, "old.log"), "hello world", now.Add(-10*24*time.Hour))
	touch(t, filepath.Join(dir, "already.gz"), "zzz", now.Add(-10*24*time.Hour))

	beats := 0
	err := Sweep(Config{Root: dir, GlobCSV: "*.log,*.gz", AgeDays: 5, Mode: ModeCompress}, now, func() { beats++ })
	require.NoError(t, err)

	assert.Equal(t, 1, beats)

	_, err = os.Stat(filepath.Join(dir, "old.log"))
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(filepath.Join(dir, "old.log.gz"))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	got, err := os.ReadFile(filepath.Join(dir, "already.gz"))
	require.NoError(t, err)
	assert.Equal(t, "zzz", string(got))
}
