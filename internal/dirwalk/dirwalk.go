// Package dirwalk implements the Dir.open(root, glob_csv, max, recurse,
// sort_asc) collaborator port (spec.md §6).
package dirwalk

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/canonical/dcxfer/internal/matchstr"
)

// Entry is one matched file (filename, fullpath, size, mtime_str per
// spec.md §6; mtime is kept as time.Time-friendly Unix seconds via FileInfo
// rather than pre-formatted, callers format as needed).
type Entry struct {
	Name     string
	FullPath string
	Size     int64
	ModTime  int64 // unix seconds
}

// Open lists files under root matching globCSV, optionally recursing into
// subdirectories, returns at most max entries (0 = unlimited) sorted by
// name ascending when sortAsc is true.
func Open(root, globCSV string, max int, recurse, sortAsc bool) ([]Entry, error) {
	var entries []Entry

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recurse && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchstr.Match(d.Name(), globCSV) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Name:     d.Name(),
			FullPath: path,
			Size:     info.Size(),
			ModTime:  info.ModTime().Unix(),
		})
		if max > 0 && len(entries) >= max {
			return filepath.SkipAll
		}
		return nil
	}

	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, err
	}

	if sortAsc {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	}

	return entries, nil
}
