// Package miner implements the C6 DB miner: a bookmarked incremental SELECT
// emitted as chunked XML files (spec.md §4.6).
package miner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/dcxfer/internal/bookmark"
	"github.com/canonical/dcxfer/internal/xmlrec"
)

// Config configures one miner run (spec.md §4.6 contract, tags pname,
// selectsql, fieldstr, outpath, maxcount, incfield, starttime). There is no
// per-column length limit: column values are written out whole.
type Config struct {
	SelectSQL  string
	Columns    []string // output column names, in select-list order
	OutPath    string
	Prefix     string
	Suffix     string
	MaxCount   int
	IncField   string // empty disables incremental mode
	PName      string
	StartHours []int // gate hours; empty = always run
}

// Miner runs one mining pass.
type Miner struct {
	cfg   Config
	db    *sql.DB
	store bookmark.IncMaxStore // nil when IncField is unset
}

// New builds a Miner. store may be nil when cfg.IncField is empty.
func New(cfg Config, db *sql.DB, store bookmark.IncMaxStore) *Miner {
	return &Miner{cfg: cfg, db: db, store: store}
}

// ShouldRun reports whether the current hour is in cfg.StartHours (spec.md
// §4.6 "the process exits immediately if the current hour is not listed"),
// or true if no gating was configured.
func (m *Miner) ShouldRun(now time.Time) bool {
	if len(m.cfg.StartHours) == 0 {
		return true
	}
	h := now.Hour()
	for _, sh := range m.cfg.StartHours {
		if sh == h {
			return true
		}
	}
	return false
}

// Run executes one full incremental-or-whole mining pass, returning the
// number of files written and the number of records emitted.
func (m *Miner) Run(ctx context.Context, now time.Time, beat func()) (files, records int, err error) {
	var lowerBound int64
	if m.cfg.IncField != "" {
		lowerBound, err = m.store.Load(ctx, m.cfg.PName)
		if err != nil {
			return 0, 0, fmt.Errorf("miner: load bookmark: %w", err)
		}
	}

	var rows *sql.Rows
	if m.cfg.IncField != "" {
		rows, err = m.db.QueryContext(ctx, m.cfg.SelectSQL, lowerBound)
	} else {
		rows, err = m.db.QueryContext(ctx, m.cfg.SelectSQL)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("miner: select: %w", err)
	}
	defer rows.Close()

	maxInc := lowerBound
	seq := 1
	var w *xmlrec.Writer
	var f *os.File
	var tmpPath, finalPath string
	inFile := 0

	closeCurrent := func() error {
		if w == nil {
			return nil
		}
		if err := w.Close(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		files++
		if beat != nil {
			beat()
		}
		return os.Rename(tmpPath, finalPath)
	}

	openNext := func() error {
		finalPath = m.outputPath(now, seq)
		tmpPath = finalPath + ".tmp"
		var err error
		f, err = os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("miner: create %s: %w", tmpPath, err)
		}
		w = xmlrec.NewWriter(f)
		inFile = 0
		seq++
		return nil
	}

	scanDest := make([]any, len(m.cfg.Columns))
	scanVals := make([]sql.NullString, len(m.cfg.Columns))
	for i := range scanDest {
		scanDest[i] = &scanVals[i]
	}

	for rows.Next() {
		if w == nil {
			if err := openNext(); err != nil {
				return files, records, err
			}
		}

		if err := rows.Scan(scanDest...); err != nil {
			return files, records, fmt.Errorf("miner: scan row: %w", err)
		}

		rec := xmlrec.NewRecord()
		for i, col := range m.cfg.Columns {
			rec.Set(col, scanVals[i].String)
		}
		if err := w.WriteRecord(rec); err != nil {
			return files, records, fmt.Errorf("miner: write record: %w", err)
		}
		records++
		inFile++

		if m.cfg.IncField != "" {
			if v, ok := rec.Get(m.cfg.IncField); ok {
				if n, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64); perr == nil && n > maxInc {
					maxInc = n
				}
			}
		}

		if m.cfg.MaxCount > 0 && inFile >= m.cfg.MaxCount {
			if err := closeCurrent(); err != nil {
				return files, records, fmt.Errorf("miner: close %s: %w", finalPath, err)
			}
			w = nil
		}
	}
	if err := rows.Err(); err != nil {
		return files, records, fmt.Errorf("miner: iterate rows: %w", err)
	}

	if err := closeCurrent(); err != nil {
		return files, records, fmt.Errorf("miner: close %s: %w", finalPath, err)
	}

	// spec.md §4.6: "The bookmark is written only if at least one record
	// was emitted."
	if m.cfg.IncField != "" && records > 0 {
		if err := m.store.Save(ctx, m.cfg.PName, maxInc); err != nil {
			return files, records, fmt.Errorf("miner: save bookmark: %w", err)
		}
	}

	return files, records, nil
}

// outputPath synthesizes {prefix}_{yyyymmddhh24miss}_{suffix}_{seq}.xml
// (spec.md §4.6 "Output file naming").
func (m *Miner) outputPath(now time.Time, seq int) string {
	name := fmt.Sprintf("%s_%s_%s_%d.xml", m.cfg.Prefix, now.UTC().Format("20060102150405"), m.cfg.Suffix, seq)
	return filepath.Join(m.cfg.OutPath, name)
}
