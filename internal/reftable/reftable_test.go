package reftable

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reftable.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWholeReplace(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "create table local_status (code varchar(10), descr varchar(40))")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "create table remote_status (rcode varchar(10), rdescr varchar(40))")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "insert into local_status values('STALE', 'old')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "insert into remote_status values('A', 'Active'), ('I', 'Inactive')")
	require.NoError(t, err)

	s := New(Config{
		SyncType:   SyncWholeReplace,
		LocalTable: "local_status",
		LinkTable:  "remote_status",
		LocalCols:  "code, descr",
		RemoteCols: "rcode, rdescr",
	}, db, db)

	require.NoError(t, s.Run(ctx))

	rows, err := db.QueryContext(ctx, "select code, descr from local_status order by code")
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var code, descr string
		require.NoError(t, rows.Scan(&code, &descr))
		got = append(got, code+":"+descr)
	}
	assert.Equal(t, []string{"A:Active", "I:Inactive"}, got)
}

func TestBatchedKeyDriven(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "create table local_ref (rkey integer, val varchar(40))")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "create table remote_ref (rkey integer, val varchar(40))")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "insert into local_ref values(1, 'stale')")
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := db.ExecContext(ctx, "insert into remote_ref values(?, ?)", i, "v")
		require.NoError(t, err)
	}

	s := New(Config{
		SyncType:   SyncBatchedKeyDriven,
		LocalTable: "local_ref",
		LinkTable:  "remote_ref",
		LocalCols:  "rkey, val",
		RemoteCols: "rkey, val",
		RemoteKey:  "rkey",
		LocalKey:   "rkey",
		MaxCount:   2,
	}, db, db)

	require.NoError(t, s.Run(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "select count(*) from local_ref").Scan(&count))
	assert.Equal(t, 5, count)

	var val string
	require.NoError(t, db.QueryRowContext(ctx, "select val from local_ref where rkey = 1").Scan(&val))
	assert.Equal(t, "v", val)
}
