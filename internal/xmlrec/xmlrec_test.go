package xmlrec

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLine(t *testing.T) {
	r := NewRecord()
	r.Set("keyid", "1")
	r.Set("name", "alice")
	assert.Equal(t, "<keyid>1</keyid><name>alice</name><endl/>", r.Line())
}

func TestGetXML(t *testing.T) {
	v, ok := GetXML("<keyid>42</keyid><name>bob</name><endl/>", "name", 0)
	require.True(t, ok)
	assert.Equal(t, "bob", v)

	_, ok = GetXML("<keyid>42</keyid>", "missing", 0)
	assert.False(t, ok)
}

func TestGetXMLMaxLen(t *testing.T) {
	v, ok := GetXML("<name>abcdef</name>", "name", 3)
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestParseLine(t *testing.T) {
	r := ParseLine("<keyid>1</keyid><name>alice</name><endl/>")
	v, ok := r.Get("keyid")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	v, ok = r.Get("name")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf)
	r1 := NewRecord()
	r1.Set("a", "1")
	r2 := NewRecord()
	r2.Set("a", "2")

	require.NoError(t, w.WriteRecord(r1))
	require.NoError(t, w.WriteRecord(r2))
	require.NoError(t, w.Close())

	lr := NewLineReader(strings.NewReader(buf.String()))
	got, err := lr.Next()
	require.NoError(t, err)
	v, _ := got.Get("a")
	assert.Equal(t, "1", v)

	got, err = lr.Next()
	require.NoError(t, err)
	v, _ = got.Get("a")
	assert.Equal(t, "2", v)

	_, err = lr.Next()
	assert.ErrorIs(t, err, io.EOF)
}
