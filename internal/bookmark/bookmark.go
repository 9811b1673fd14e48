// Package bookmark implements the persistent bookkeeping spec.md §3/§6
// relies on to make restarts incremental: the FTP bookmark file
// (filename→mtime) and the incremental-max value (file- or table-backed).
package bookmark

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/canonical/dcxfer/internal/dcconfig"
)

// FTPBookmark is the set of files a C5 run has previously transferred
// successfully (spec.md §3 BookmarkEntry).
type FTPBookmark struct {
	path    string
	entries map[string]string // filename -> mtime
}

// LoadFTPBookmark reads path, treating a missing file as an empty bookmark.
func LoadFTPBookmark(path string) (*FTPBookmark, error) {
	b := &FTPBookmark{path: path, entries: map[string]string{}}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookmark: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tags, err := dcconfig.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("bookmark: parse %s: %w", path, err)
		}
		name, ok := tags.Get("filename")
		if !ok {
			continue
		}
		mtime, _ := tags.Get("mtime")
		b.entries[name] = mtime
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return b, nil
}

// Get returns the recorded mtime for filename.
func (b *FTPBookmark) Get(filename string) (string, bool) {
	v, ok := b.entries[filename]
	return v, ok
}

// Has reports whether filename is present in the bookmark.
func (b *FTPBookmark) Has(filename string) bool {
	_, ok := b.entries[filename]
	return ok
}

// Rewrite atomically replaces the bookmark file's contents with kept
// (spec.md §4.5 step 3c: "Rewrite bookmark file to contain exactly kept").
func (b *FTPBookmark) Rewrite(kept map[string]string) error {
	tmp := b.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("bookmark: create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	for name, mtime := range kept {
		if _, err := fmt.Fprintln(w, dcconfig.Encode([2]string{"filename", name}, [2]string{"mtime", mtime})); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("bookmark: rename %s: %w", tmp, err)
	}

	b.entries = kept
	return nil
}

// Append adds one successfully-transferred file to the bookmark (spec.md
// §4.5 step 3d: "append (f, mtime_r) to the bookmark file").
func (b *FTPBookmark) Append(filename, mtime string) error {
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("bookmark: append-open %s: %w", b.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, dcconfig.Encode([2]string{"filename", filename}, [2]string{"mtime", mtime})); err != nil {
		return err
	}

	b.entries[filename] = mtime
	return nil
}

// IncMaxStore holds the current maxincvalue for the miner's incremental
// column (spec.md §3 IncMax), either file- or table-backed.
type IncMaxStore interface {
	Load(ctx context.Context, pname string) (int64, error)
	Save(ctx context.Context, pname string, value int64) error
}

// FileIncMaxStore is the single-line-file form of spec.md §6.
type FileIncMaxStore struct {
	Path string
}

// Load reads the stored max, returning 0 if the file does not exist yet.
func (s *FileIncMaxStore) Load(_ context.Context, _ string) (int64, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bookmark: read incmax %s: %w", s.Path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bookmark: parse incmax %s: %w", s.Path, err)
	}
	return v, nil
}

// Save overwrites the file with value (spec.md §6 "overwritten each
// write").
func (s *FileIncMaxStore) Save(_ context.Context, _ string, value int64) error {
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(value, 10)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// TableIncMaxStore backs IncMax with T_MAXINCVALUE(pname, maxincvalue),
// auto-created on first write if missing (spec.md §6).
type TableIncMaxStore struct {
	DB *sql.DB
}

const createMaxIncTable = `create table if not exists T_MAXINCVALUE (
	pname varchar2(64) primary key,
	maxincvalue number(15)
)`

// Load returns the current value for pname, or 0 if no row exists.
func (s *TableIncMaxStore) Load(ctx context.Context, pname string) (int64, error) {
	if _, err := s.DB.ExecContext(ctx, createMaxIncTable); err != nil {
		return 0, fmt.Errorf("bookmark: ensure T_MAXINCVALUE: %w", err)
	}

	var v int64
	err := s.DB.QueryRowContext(ctx, "select maxincvalue from T_MAXINCVALUE where pname = ?", pname).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bookmark: load incmax for %s: %w", pname, err)
	}
	return v, nil
}

// Save upserts pname's maxincvalue.
func (s *TableIncMaxStore) Save(ctx context.Context, pname string, value int64) error {
	if _, err := s.DB.ExecContext(ctx, createMaxIncTable); err != nil {
		return fmt.Errorf("bookmark: ensure T_MAXINCVALUE: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, "update T_MAXINCVALUE set maxincvalue = ? where pname = ?", value, pname)
	if err != nil {
		return fmt.Errorf("bookmark: update incmax for %s: %w", pname, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err = s.DB.ExecContext(ctx, "insert into T_MAXINCVALUE(pname, maxincvalue) values(?, ?)", pname, value)
	if err != nil {
		return fmt.Errorf("bookmark: insert incmax for %s: %w", pname, err)
	}
	return nil
}
