package ftpsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFTP struct {
	names   []string
	mtimes  map[string]time.Time
	bodies  map[string]string
	deleted []string
	renamed map[string]string
	puts    map[string]string
}

func newFakeFTP() *fakeFTP {
	return &fakeFTP{
		mtimes:  map[string]time.Time{},
		bodies:  map[string]string{},
		renamed: map[string]string{},
		puts:    map[string]string{},
	}
}

func (f *fakeFTP) NList() ([]string, error) { return f.names, nil }

func (f *fakeFTP) MTime(name string) (time.Time, error) {
	t, ok := f.mtimes[name]
	if !ok {
		return time.Time{}, fmt.Errorf("no such file %s", name)
	}
	return t, nil
}

func (f *fakeFTP) Get(name string, w io.Writer) error {
	body, ok := f.bodies[name]
	if !ok {
		return fmt.Errorf("no such file %s", name)
	}
	_, err := io.WriteString(w, body)
	return err
}

func (f *fakeFTP) Put(name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.puts[name] = string(data)
	return nil
}

func (f *fakeFTP) Delete(name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeFTP) Rename(name, dest string) error {
	f.renamed[name] = dest
	return nil
}

func TestDownloadIncrementalSkipsBookmarked(t *testing.T) {
	dir := t.TempDir()
	bmPath := filepath.Join(dir, "bookmark.txt")
	localRoot := filepath.Join(dir, "local")
	require.NoError(t, os.Mkdir(localRoot, 0755))

	require.NoError(t, os.WriteFile(bmPath, []byte("<filename>old.xml</filename><mtime>202501010000</mtime>\n"), 0644))

	client := newFakeFTP()
	client.names = []string{"old.xml", "new.xml"}
	client.bodies["new.xml"] = "<a>1</a><endl/>\n"
	client.mtimes["new.xml"] = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	r := New(Config{
		BookmarkPath: bmPath,
		GlobCSV:      "*.xml",
		Ptype:        PTypeIncremental,
		CheckMTime:   false,
	}, nil)

	err := r.Download(client, localRoot)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(localRoot, "old.xml"))
	assert.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(filepath.Join(localRoot, "new.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<a>1</a><endl/>\n", string(got))

	bm, err := os.ReadFile(bmPath)
	require.NoError(t, err)
	assert.Contains(t, string(bm), "new.xml")
	assert.Contains(t, string(bm), "old.xml")
}

func TestDownloadDeleteAfter(t *testing.T) {
	dir := t.TempDir()
	localRoot := filepath.Join(dir, "local")
	require.NoError(t, os.Mkdir(localRoot, 0755))

	client := newFakeFTP()
	client.names = []string{"a.xml"}
	client.bodies["a.xml"] = "body"

	r := New(Config{GlobCSV: "*.xml", Ptype: PTypeDeleteAfter}, nil)

	require.NoError(t, r.Download(client, localRoot))

	assert.Equal(t, []string{"a.xml"}, client.deleted)
	got, err := os.ReadFile(filepath.Join(localRoot, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(got))
}

func TestUploadIncremental(t *testing.T) {
	dir := t.TempDir()
	bmPath := filepath.Join(dir, "bookmark.txt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), []byte("bbb"), 0644))

	client := newFakeFTP()
	r := New(Config{BookmarkPath: bmPath, GlobCSV: "*.xml", Ptype: PTypeIncremental}, nil)

	require.NoError(t, r.Upload(client, dir))

	assert.Equal(t, "aaa", client.puts["a.xml"])
	assert.Equal(t, "bbb", client.puts["b.xml"])

	// second run with nothing changed and CheckMTime off re-uploads nothing
	client2 := newFakeFTP()
	require.NoError(t, r.Upload(client2, dir))
	assert.Empty(t, client2.puts)
}
