// Package ftpsync implements the C5 FTP replicator: incremental, whole, and
// rename-on-complete download/upload against a remote directory, diffed
// against a local bookmark (spec.md §4.5).
package ftpsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/dcxfer/internal/bookmark"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dirwalk"
	"github.com/canonical/dcxfer/internal/matchstr"
)

// FTPPort is the subset of internal/ftpclient.Client the replicator drives
// (spec.md §6 FTP port), kept as an interface so the algorithm can be
// exercised against a fake without a live FTP server.
type FTPPort interface {
	NList() ([]string, error)
	MTime(name string) (time.Time, error)
	Get(name string, w io.Writer) error
	Put(name string, r io.Reader) error
	Delete(name string) error
	Rename(name, dest string) error
}

// PType selects the post-transfer disposition applied to successfully
// downloaded remote files (spec.md §4.5 steps 3-5).
type PType int

const (
	// PTypeIncremental skips files already recorded in the bookmark,
	// unless CheckMTime is set and the remote mtime changed.
	PTypeIncremental PType = 1
	// PTypeDeleteAfter downloads every match then deletes it remotely.
	PTypeDeleteAfter PType = 2
	// PTypeRenameAfter downloads every match then renames it remotely to
	// a backup path.
	PTypeRenameAfter PType = 3
)

// mtimeLayout is the canonical 14-digit yyyymmddhh24miss form (spec.md §3
// TableColumn, reused here for bookmark mtime comparisons).
const mtimeLayout = "20060102150405"

// Config configures one replicator run.
type Config struct {
	BookmarkPath string
	GlobCSV      string
	Ptype        PType
	CheckMTime   bool
	BackupSuffix string // used with PTypeRenameAfter
}

// Replicator runs one C5 download or upload pass.
type Replicator struct {
	cfg Config
	log *dclog.Logger
}

// New builds a Replicator for cfg.
func New(cfg Config, log *dclog.Logger) *Replicator {
	return &Replicator{cfg: cfg, log: log}
}

// Download performs the remote-to-local algorithm of spec.md §4.5: NLST the
// remote directory, diff against the bookmark (incremental mode), GET the
// files that need transferring, and apply the configured disposition.
func (r *Replicator) Download(client FTPPort, localRoot string) error {
	names, err := client.NList()
	if err != nil {
		return fmt.Errorf("ftpsync: download nlist: %w", err)
	}

	var matched []string
	for _, n := range names {
		if matchstr.Match(filepath.Base(n), r.cfg.GlobCSV) {
			matched = append(matched, n)
		}
	}

	switch r.cfg.Ptype {
	case PTypeIncremental:
		return r.downloadIncremental(client, localRoot, matched)
	case PTypeDeleteAfter:
		return r.downloadThenApply(client, localRoot, matched, func(name string) error {
			return client.Delete(name)
		})
	case PTypeRenameAfter:
		return r.downloadThenApply(client, localRoot, matched, func(name string) error {
			return client.Rename(name, name+r.cfg.BackupSuffix)
		})
	default:
		return fmt.Errorf("ftpsync: unknown ptype %d", r.cfg.Ptype)
	}
}

// downloadIncremental implements spec.md §4.5 step 3: load the bookmark,
// partition into kept/download by presence (and optionally mtime), rewrite
// the bookmark to exactly kept, then GET each download candidate and append
// it on success.
func (r *Replicator) downloadIncremental(client FTPPort, localRoot string, names []string) error {
	bm, err := bookmark.LoadFTPBookmark(r.cfg.BookmarkPath)
	if err != nil {
		return fmt.Errorf("ftpsync: load bookmark: %w", err)
	}

	kept := map[string]string{}
	var toDownload []string

	for _, name := range names {
		prevMtime, have := bm.Get(name)
		if !have {
			toDownload = append(toDownload, name)
			continue
		}

		if !r.cfg.CheckMTime {
			kept[name] = prevMtime
			continue
		}

		remoteMtime, err := client.MTime(name)
		if err != nil {
			return fmt.Errorf("ftpsync: mtime %s: %w", name, err)
		}
		remote := remoteMtime.UTC().Format(mtimeLayout)
		if remote == prevMtime {
			kept[name] = prevMtime
			continue
		}
		toDownload = append(toDownload, name)
	}

	if err := bm.Rewrite(kept); err != nil {
		return fmt.Errorf("ftpsync: rewrite bookmark: %w", err)
	}

	for _, name := range toDownload {
		remoteMtime, err := client.MTime(name)
		if err != nil {
			return fmt.Errorf("ftpsync: mtime %s: %w", name, err)
		}

		if err := r.getOne(client, localRoot, name); err != nil {
			return err
		}

		if err := bm.Append(name, remoteMtime.UTC().Format(mtimeLayout)); err != nil {
			return fmt.Errorf("ftpsync: append bookmark %s: %w", name, err)
		}

		if r.log != nil {
			r.log.WithFields(dclog.Ctx{"filename": name}).Info("ftpsync: downloaded")
		}
	}

	return nil
}

// downloadThenApply implements spec.md §4.5 steps 4-5: download every match
// unconditionally, then apply a remote post-transfer disposition to each
// successfully downloaded file.
func (r *Replicator) downloadThenApply(client FTPPort, localRoot string, names []string, apply func(string) error) error {
	for _, name := range names {
		if err := r.getOne(client, localRoot, name); err != nil {
			return err
		}
		if err := apply(name); err != nil {
			return fmt.Errorf("ftpsync: post-transfer disposition %s: %w", name, err)
		}
		if r.log != nil {
			r.log.WithFields(dclog.Ctx{"filename": name}).Info("ftpsync: downloaded")
		}
	}
	return nil
}

func (r *Replicator) getOne(client FTPPort, localRoot, name string) error {
	tmp := filepath.Join(localRoot, ".tmp."+filepath.Base(name))
	final := filepath.Join(localRoot, filepath.Base(name))

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("ftpsync: create %s: %w", tmp, err)
	}

	if err := client.Get(name, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("ftpsync: get %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ftpsync: close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("ftpsync: rename %s: %w", tmp, err)
	}
	return nil
}

// Upload performs the local-to-remote symmetric algorithm of spec.md §4.5:
// list the local directory instead of NLST, diff against the bookmark, PUT
// files that need transferring, and apply the configured local disposition.
func (r *Replicator) Upload(client FTPPort, localRoot string) error {
	entries, err := dirwalk.Open(localRoot, r.cfg.GlobCSV, 0, false, true)
	if err != nil {
		return fmt.Errorf("ftpsync: upload list local: %w", err)
	}

	switch r.cfg.Ptype {
	case PTypeIncremental:
		return r.uploadIncremental(client, entries)
	case PTypeDeleteAfter:
		return r.uploadThenApply(client, entries, func(fullpath string) error {
			return os.Remove(fullpath)
		})
	case PTypeRenameAfter:
		return r.uploadThenApply(client, entries, func(fullpath string) error {
			return os.Rename(fullpath, fullpath+r.cfg.BackupSuffix)
		})
	default:
		return fmt.Errorf("ftpsync: unknown ptype %d", r.cfg.Ptype)
	}
}

func (r *Replicator) uploadIncremental(client FTPPort, entries []dirwalk.Entry) error {
	bm, err := bookmark.LoadFTPBookmark(r.cfg.BookmarkPath)
	if err != nil {
		return fmt.Errorf("ftpsync: load bookmark: %w", err)
	}

	kept := map[string]string{}
	var toUpload []dirwalk.Entry

	for _, e := range entries {
		prevMtime, have := bm.Get(e.Name)
		localMtime := time.Unix(e.ModTime, 0).UTC().Format(mtimeLayout)

		if have && (!r.cfg.CheckMTime || prevMtime == localMtime) {
			kept[e.Name] = prevMtime
			continue
		}
		toUpload = append(toUpload, e)
	}

	if err := bm.Rewrite(kept); err != nil {
		return fmt.Errorf("ftpsync: rewrite bookmark: %w", err)
	}

	for _, e := range toUpload {
		if err := r.putOne(client, e); err != nil {
			return err
		}
		localMtime := time.Unix(e.ModTime, 0).UTC().Format(mtimeLayout)
		if err := bm.Append(e.Name, localMtime); err != nil {
			return fmt.Errorf("ftpsync: append bookmark %s: %w", e.Name, err)
		}
		if r.log != nil {
			r.log.WithFields(dclog.Ctx{"filename": e.Name}).Info("ftpsync: uploaded")
		}
	}

	return nil
}

func (r *Replicator) uploadThenApply(client FTPPort, entries []dirwalk.Entry, apply func(string) error) error {
	for _, e := range entries {
		if err := r.putOne(client, e); err != nil {
			return err
		}
		if err := apply(e.FullPath); err != nil {
			return fmt.Errorf("ftpsync: post-transfer disposition %s: %w", e.Name, err)
		}
		if r.log != nil {
			r.log.WithFields(dclog.Ctx{"filename": e.Name}).Info("ftpsync: uploaded")
		}
	}
	return nil
}

func (r *Replicator) putOne(client FTPPort, e dirwalk.Entry) error {
	f, err := os.Open(e.FullPath)
	if err != nil {
		return fmt.Errorf("ftpsync: open %s: %w", e.FullPath, err)
	}
	defer f.Close()

	if err := client.Put(e.Name, f); err != nil {
		return fmt.Errorf("ftpsync: put %s: %w", e.Name, err)
	}
	return nil
}
