package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
- filename_glob: "ORDER_*.XML"
  table_name: T_ORDER
  update_on_conflict: true
  pre_sql: "delete from T_ORDER_STAGE"
- filename_glob: "*.XML"
  table_name: T_GENERIC
  update_on_conflict: false
  pre_sql: ""
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0644))
	return path
}

func TestLoadAndMatchFirstWins(t *testing.T) {
	l, err := Load(writeFixture(t))
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())

	r, ok := l.Match("ORDER_20260101.XML")
	require.True(t, ok)
	assert.Equal(t, "T_ORDER", r.TableName)
	assert.True(t, r.UpdateOnConflict)

	r, ok = l.Match("INVOICE_20260101.XML")
	require.True(t, ok)
	assert.Equal(t, "T_GENERIC", r.TableName)
	assert.False(t, r.UpdateOnConflict)
}

func TestMatchNoRule(t *testing.T) {
	l, err := Load(writeFixture(t))
	require.NoError(t, err)

	_, ok := l.Match("readme.txt")
	assert.False(t, ok)
}
