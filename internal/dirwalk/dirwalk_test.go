package dirwalk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("x"), 0644))

	entries, err := Open(dir, "*.xml", 0, false, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.xml", entries[0].Name)
	require.Equal(t, "b.xml", entries[1].Name)
}

func TestOpenMax(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.xml", "b.xml", "c.xml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644))
	}

	entries, err := Open(dir, "*.xml", 1, false, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
