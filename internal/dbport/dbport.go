// Package dbport is the DB collaborator port of spec.md §6, mapped onto
// Go's database/sql: prepare/bindin/bindout/execute/next/rpc/rc/message
// become Prepare/Exec/Query/Scan/RowsAffected/error. The mattn/go-sqlite3
// driver is registered so `connstr` resolves against a real driver; the
// spec never names a specific RDBMS, so any database/sql driver plugs in
// here without changing a caller.
package dbport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Semantic column type, spec.md §3 TableColumn.
type ColType int

const (
	ColChar ColType = iota
	ColDate
	ColNumber
)

// TableColumn is spec.md §3's TableColumn: name, semantic type, declared
// length, and 1-based primary-key position (0 = not part of the key).
type TableColumn struct {
	Name   string
	Type   ColType
	Length int
	PKSeq  int
}

// DateLayout is the canonical 14-digit date representation (spec.md §3).
const DateLayout = "yyyymmddhh24miss"

// DB wraps a *sql.DB plus the introspection needed to synthesize dynamic
// SQL for arbitrary tables.
type DB struct {
	conn    *sql.DB
	driver  string
	connstr string
}

// Open connects using driver against connstr. charset is accepted for
// parity with spec.md §6 DB(connstr, charset) but is driver-specific and
// not interpreted here beyond being threaded into the DSN.
func Open(driver, connstr, charset string) (*DB, error) {
	dsn := connstr
	if charset != "" {
		dsn = fmt.Sprintf("%s?charset=%s", connstr, charset)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbport: open %s: %w", driver, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dbport: ping %s: %w", driver, err)
	}

	return &DB{conn: conn, driver: driver, connstr: connstr}, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the raw *sql.DB for callers (ingester, miner, reftable) that
// need transactions or custom statements beyond this port's helpers.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Columns introspects table's columns (name, length) and primary-key
// sequence via sqlite's PRAGMA table_info, the portable inspection surface
// available without a vendor-specific data dictionary query. Semantic type
// (char/date/number) is inferred from the declared SQL type name, the way
// spec.md §3 buckets every column into one of the three.
func (db *DB) Columns(ctx context.Context, table string) ([]TableColumn, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("dbport: introspect %s: %w", table, err)
	}
	defer rows.Close()

	var cols []TableColumn
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("dbport: scan column info: %w", err)
		}

		col := TableColumn{Name: name, PKSeq: pk}
		col.Type, col.Length = classify(ctype)
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		return nil, ErrNoSuchTable
	}

	return cols, nil
}

func classify(sqlType string) (ColType, int) {
	t := strings.ToUpper(sqlType)
	switch {
	case strings.Contains(t, "DATE") || strings.Contains(t, "TIMESTAMP"):
		return ColDate, 14
	case strings.Contains(t, "INT") || strings.Contains(t, "NUMBER") || strings.Contains(t, "DECIMAL") || strings.Contains(t, "FLOAT") || strings.Contains(t, "REAL"):
		return ColNumber, 22
	default:
		length := 255
		if i := strings.Index(t, "("); i >= 0 {
			var n int
			if _, err := fmt.Sscanf(t[i:], "(%d)", &n); err == nil {
				length = n
			}
		}
		return ColChar, length
	}
}

// ErrNoSuchTable is returned when introspection finds zero columns
// (spec.md §4.7b "Empty column set → NO_TABLE").
var ErrNoSuchTable = errors.New("dbport: table has no columns")

// fatalSubstrings enumerates the connection-level faults of spec.md §4.7f that
// escalate a per-record error into a process-ending DB_ERR.
var fatalSubstrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"closed network connection",
	"database is locked",
	"disk i/o error",
	"no such host",
}

// IsFatal reports whether err represents a connection-level fault rather
// than a per-record data problem (spec.md §4.7f, §7 kind 2/4).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a primary-key/uniqueness
// conflict (spec.md §4.7f "a signal, not an error, when upsert is
// enabled").
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
