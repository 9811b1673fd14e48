// Package matchstr implements the matchstr(name, glob_csv) collaborator
// port (spec.md §6): a filename matches if it matches any comma-separated
// glob pattern.
package matchstr

import (
	"path/filepath"
	"strings"
)

// Match reports whether name matches any pattern in the comma-separated
// globCSV list.
func Match(name, globCSV string) bool {
	for _, pat := range strings.Split(globCSV, ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
