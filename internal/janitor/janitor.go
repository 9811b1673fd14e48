// Package janitor implements the C3 file-aging sweep: delete or compress
// files older than a threshold under a glob (spec.md §4.3).
package janitor

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/canonical/dcxfer/internal/dirwalk"
)

// Mode selects what happens to a file once it is old enough to sweep.
type Mode int

const (
	ModeDelete Mode = iota
	ModeCompress
)

// Config describes one sweep.
type Config struct {
	Root    string
	GlobCSV string
	AgeDays int
	Mode    Mode
}

// Sweep walks cfg.Root recursively, matching filenames against cfg.GlobCSV,
// and applies cfg.Mode to files whose mtime is older than
// now - age_days*86400 (spec.md §4.3). beat is invoked between files only
// in compress mode, since compression can be slow.
func Sweep(cfg Config, now time.Time, beat func()) error {
	entries, err := dirwalk.Open(cfg.Root, cfg.GlobCSV, 0, true, true)
	if err != nil {
		return fmt.Errorf("janitor: walk %s: %w", cfg.Root, err)
	}

	threshold := now.Add(-time.Duration(cfg.AgeDays) * 24 * time.Hour).Unix()

	for _, e := range entries {
		if e.ModTime >= threshold {
			continue
		}

		switch cfg.Mode {
		case ModeDelete:
			if err := os.Remove(e.FullPath); err != nil {
				return fmt.Errorf("janitor: delete %s: %w", e.FullPath, err)
			}
		case ModeCompress:
			// spec.md §4.3 "already-compressed files (matching *.gz) are
			// skipped" in compress mode.
			if strings.HasSuffix(strings.ToLower(e.Name), ".gz") {
				continue
			}
			if err := compressFile(e.FullPath); err != nil {
				return fmt.Errorf("janitor: compress %s: %w", e.FullPath, err)
			}
			if beat != nil {
				beat()
			}
		}
	}

	return nil
}

// compressFile gzips src to src+".gz" and removes src, matching the miner's
// create-temp/rename-on-close discipline so a crash mid-compress never
// leaves a half-written .gz masquerading as complete.
func compressFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := src + ".gz.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, src+".gz"); err != nil {
		return err
	}
	return os.Remove(src)
}
