package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/dcxfer/internal/dbport"
	"github.com/canonical/dcxfer/internal/rules"
)

func setupDirs(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		InboxPath: filepath.Join(root, "inbox"),
		BakPath:   filepath.Join(root, "bak"),
		ErrPath:   filepath.Join(root, "err"),
	}
	for _, d := range []string{cfg.InboxPath, cfg.BakPath, cfg.ErrPath} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	return cfg
}

func openFileDB(t *testing.T) *dbport.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.db")
	db, err := dbport.Open("sqlite3", path, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeRules(t *testing.T, path string, rs string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(rs), 0644))
}

func TestProcessFileOKInsert(t *testing.T) {
	cfg := setupDirs(t)
	db := openFileDB(t)
	ctx := context.Background()

	_, err := db.Conn().ExecContext(ctx, `create table T_CUSTOMER (
		custid number(22) primary key,
		custname varchar(40),
		status varchar(10)
	)`)
	require.NoError(t, err)

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, rulesPath, `
- filename_glob: "CUST_*.XML"
  table_name: T_CUSTOMER
  update_on_conflict: true
  pre_sql: ""
`)
	rl, err := rules.Load(rulesPath)
	require.NoError(t, err)

	body := "<custid>1</custid><custname>Acme</custname><status>A</status><endl/>\n" +
		"<custid>2</custid><custname>Globex</custname><status>A</status><endl/>\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InboxPath, "CUST_001.XML"), []byte(body), 0644))

	ing := New(cfg, db, nil)

	res := ing.ProcessFile(ctx, rl, "CUST_001.XML")
	require.False(t, res.Fatal())
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)

	_, err = os.Stat(filepath.Join(cfg.InboxPath, "CUST_001.XML"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.BakPath, "CUST_001.XML"))
	assert.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRowContext(ctx, "select count(*) from T_CUSTOMER").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestProcessFileUpsertOnConflict(t *testing.T) {
	cfg := setupDirs(t)
	db := openFileDB(t)
	ctx := context.Background()

	_, err := db.Conn().ExecContext(ctx, `create table T_CUSTOMER (
		custid number(22) primary key,
		custname varchar(40),
		status varchar(10)
	)`)
	require.NoError(t, err)

	_, err = db.Conn().ExecContext(ctx, "insert into T_CUSTOMER(custid, custname, status) values(1, 'Old Name', 'A')")
	require.NoError(t, err)

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, rulesPath, `
- filename_glob: "CUST_*.XML"
  table_name: T_CUSTOMER
  update_on_conflict: true
  pre_sql: ""
`)
	rl, err := rules.Load(rulesPath)
	require.NoError(t, err)

	body := "<custid>1</custid><custname>New Name</custname><status>B</status><endl/>\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InboxPath, "CUST_002.XML"), []byte(body), 0644))

	ing := New(cfg, db, nil)
	res := ing.ProcessFile(ctx, rl, "CUST_002.XML")

	require.False(t, res.Fatal())
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	var name, status string
	require.NoError(t, db.Conn().QueryRowContext(ctx, "select custname, status from T_CUSTOMER where custid = 1").Scan(&name, &status))
	assert.Equal(t, "New Name", name)
	assert.Equal(t, "B", status)
}

func TestProcessFileBadRule(t *testing.T) {
	cfg := setupDirs(t)
	db := openFileDB(t)

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, rulesPath, `
- filename_glob: "CUST_*.XML"
  table_name: T_CUSTOMER
  update_on_conflict: false
  pre_sql: ""
`)
	rl, err := rules.Load(rulesPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.InboxPath, "UNKNOWN.XML"), []byte("<a>1</a><endl/>\n"), 0644))

	ing := New(cfg, db, nil)
	res := ing.ProcessFile(context.Background(), rl, "UNKNOWN.XML")

	assert.Equal(t, OutcomeBadRule, res.Outcome)
	assert.False(t, res.Fatal())

	_, err = os.Stat(filepath.Join(cfg.ErrPath, "UNKNOWN.XML"))
	assert.NoError(t, err)
}

func TestProcessFileNoTable(t *testing.T) {
	cfg := setupDirs(t)
	db := openFileDB(t)

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, rulesPath, `
- filename_glob: "CUST_*.XML"
  table_name: T_MISSING
  update_on_conflict: false
  pre_sql: ""
`)
	rl, err := rules.Load(rulesPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.InboxPath, "CUST_003.XML"), []byte("<a>1</a><endl/>\n"), 0644))

	ing := New(cfg, db, nil)
	res := ing.ProcessFile(context.Background(), rl, "CUST_003.XML")

	assert.Equal(t, OutcomeNoTable, res.Outcome)
	_, err = os.Stat(filepath.Join(cfg.ErrPath, "CUST_003.XML"))
	assert.NoError(t, err)
}

func TestFilterValue(t *testing.T) {
	assert.Equal(t, "20260101120000", filterValue("2026-01-01 12:00:00", dbport.ColDate))
	assert.Equal(t, "-12.5", filterValue("$-12.5", dbport.ColNumber))
	assert.Equal(t, "hello world", filterValue("hello world", dbport.ColChar))
}
