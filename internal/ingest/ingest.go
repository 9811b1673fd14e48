// Package ingest implements the C7 XML-to-table ingester core: inbox scan,
// rule dispatch, schema introspection, dynamic SQL synthesis, per-record
// insert/upsert with error isolation, and batch commit (spec.md §4.7).
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/canonical/dcxfer/internal/dbport"
	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/rules"
	"github.com/canonical/dcxfer/internal/sqlbuild"
	"github.com/canonical/dcxfer/internal/xmlrec"
)

// Outcome is the per-file disposition of spec.md §4.7 Outcome dispositions
// table.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeBadRule
	OutcomeNoTable
	OutcomePreSQLErr
	OutcomeDBErr
	OutcomeOpenErr
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeBadRule:
		return "BAD_RULE"
	case OutcomeNoTable:
		return "NO_TABLE"
	case OutcomePreSQLErr:
		return "PRE_SQL_ERR"
	case OutcomeDBErr:
		return "DB_ERR"
	case OutcomeOpenErr:
		return "OPEN_ERR"
	default:
		return "UNKNOWN"
	}
}

// Result reports counts alongside the outcome (spec.md §4.7g "OK(total,
// inserted, updated)").
type Result struct {
	Outcome   Outcome
	Total     int
	Inserted  int
	Updated   int
	Err       error
}

// Fatal reports whether Outcome requires the process to exit rather than
// continue to the next file (spec.md §4.7 dispositions table: DB_ERR and
// OPEN_ERR leave the file in place and exit).
func (r Result) Fatal() bool {
	return r.Outcome == OutcomeDBErr || r.Outcome == OutcomeOpenErr
}

// Config configures one ingester run.
type Config struct {
	InboxPath string
	BakPath   string
	ErrPath   string
}

// Ingester drives the C7 outer loop and per-file processing.
type Ingester struct {
	cfg Config
	db  *dbport.DB
	log *dclog.Logger
}

// New builds an Ingester bound to db.
func New(cfg Config, db *dbport.DB, log *dclog.Logger) *Ingester {
	return &Ingester{cfg: cfg, db: db, log: log}
}

// ScanInbox lists `*.XML` files in the inbox, sorted by filename (spec.md
// §4.7 step 3, §5 "files within one run are processed in lexicographic
// filename order").
func (g *Ingester) ScanInbox() ([]string, error) {
	entries, err := os.ReadDir(g.cfg.InboxPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: scan inbox %s: %w", g.cfg.InboxPath, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToUpper(e.Name()), ".XML") {
			continue
		}
		names = append(names, e.Name())
	}

	sort.Strings(names)
	return names, nil
}

// ProcessFile runs spec.md §4.7's per-file algorithm (steps a-g) for one
// inbox file and applies the resulting move disposition.
func (g *Ingester) ProcessFile(ctx context.Context, rl *rules.List, filename string) Result {
	res := g.processFile(ctx, rl, filename)
	g.dispose(filename, res)
	return res
}

func (g *Ingester) processFile(ctx context.Context, rl *rules.List, filename string) Result {
	rule, ok := rl.Match(filename)
	if !ok {
		return Result{Outcome: OutcomeBadRule, Err: fmt.Errorf("ingest: no rule matches %s", filename)}
	}

	cols, err := g.db.Columns(ctx, rule.TableName)
	if err != nil {
		if err == dbport.ErrNoSuchTable {
			return Result{Outcome: OutcomeNoTable, Err: err}
		}
		return Result{Outcome: OutcomeDBErr, Err: fmt.Errorf("ingest: introspect %s: %w", rule.TableName, err)}
	}

	insertStmt := sqlbuild.BuildInsert(rule.TableName, cols)
	var updateStmt sqlbuild.Statement
	if rule.UpdateOnConflict {
		updateStmt = sqlbuild.BuildUpdate(rule.TableName, cols)
	}

	tx, err := g.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Result{Outcome: OutcomeDBErr, Err: fmt.Errorf("ingest: begin tx: %w", err)}
	}

	if rule.PreSQL != "" {
		if _, err := tx.ExecContext(ctx, rule.PreSQL); err != nil {
			tx.Rollback()
			return Result{Outcome: OutcomePreSQLErr, Err: fmt.Errorf("ingest: pre_sql: %w", err)}
		}
	}

	f, err := os.Open(filepath.Join(g.cfg.InboxPath, filename))
	if err != nil {
		tx.Rollback()
		return Result{Outcome: OutcomeOpenErr, Err: fmt.Errorf("ingest: open %s: %w", filename, err)}
	}
	defer f.Close()

	lr := xmlrec.NewLineReader(f)
	colByName := map[string]dbport.TableColumn{}
	for _, c := range cols {
		colByName[c.Name] = c
	}

	total, inserted, updated := 0, 0, 0
	for {
		rec, err := lr.Next()
		if err == nil {
			total++
			ures, execErr := g.execRecord(ctx, tx, rec, colByName, insertStmt, updateStmt, rule.UpdateOnConflict)
			if execErr != nil {
				if dbport.IsFatal(execErr) {
					tx.Rollback()
					return Result{Outcome: OutcomeDBErr, Err: execErr, Total: total}
				}
				if g.log != nil {
					g.log.WithFields(dclog.Ctx{"filename": filename, "record": total, "err": execErr}).Warn("ingest: record error")
				}
				continue
			}
			if ures {
				updated++
			} else {
				inserted++
			}
			continue
		}
		break
	}

	if err := tx.Commit(); err != nil {
		return Result{Outcome: OutcomeDBErr, Err: fmt.Errorf("ingest: commit: %w", err), Total: total}
	}

	return Result{Outcome: OutcomeOK, Total: total, Inserted: inserted, Updated: updated}
}

// execRecord executes the insert, falling back to update on a uniqueness
// violation when upsert is enabled (spec.md §4.7f). It returns true if the
// fallback update ran and succeeded.
func (g *Ingester) execRecord(ctx context.Context, tx *sql.Tx, rec *xmlrec.Record, colByName map[string]dbport.TableColumn, insertStmt, updateStmt sqlbuild.Statement, upsert bool) (bool, error) {
	insertArgs := bindArgs(rec, colByName, insertStmt)
	_, err := tx.ExecContext(ctx, insertStmt.SQL, insertArgs...)
	if err == nil {
		return false, nil
	}

	if !upsert || !dbport.IsUniqueViolation(err) {
		return false, err
	}

	updateArgs := bindArgs(rec, colByName, updateStmt)
	if _, uerr := tx.ExecContext(ctx, updateStmt.SQL, updateArgs...); uerr != nil {
		// spec.md §4.7f: "Failure of UPDATE is logged per-record but does
		// not abort" — report it as a non-fatal record error, not the
		// original insert conflict.
		return false, uerr
	}
	return true, nil
}

// bindArgs resolves a Statement's BindColumns against rec, applying
// spec.md §4.7f's per-type filtering (date keeps digits only, number keeps
// digits/sign/decimal-point, char is preserved as-is).
func bindArgs(rec *xmlrec.Record, colByName map[string]dbport.TableColumn, stmt sqlbuild.Statement) []any {
	args := make([]any, len(stmt.BindColumns))
	for i, name := range stmt.BindColumns {
		raw, _ := rec.Get(name)
		col := colByName[name]
		args[i] = filterValue(raw, col.Type)
	}
	return args
}

func filterValue(raw string, t dbport.ColType) string {
	switch t {
	case dbport.ColDate:
		return keepRunes(raw, func(r rune) bool { return r >= '0' && r <= '9' })
	case dbport.ColNumber:
		return keepRunes(raw, func(r rune) bool { return (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.' })
	default:
		return raw
	}
}

func keepRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dispose applies spec.md §4.7's outcome dispositions table: OK moves to
// bak, BAD_RULE/NO_TABLE/PRE_SQL_ERR move to err, DB_ERR/OPEN_ERR leave the
// file in place for the next (post-restart) run.
func (g *Ingester) dispose(filename string, res Result) {
	var destDir string
	switch res.Outcome {
	case OutcomeOK:
		destDir = g.cfg.BakPath
	case OutcomeBadRule, OutcomeNoTable, OutcomePreSQLErr:
		destDir = g.cfg.ErrPath
	default:
		return
	}

	src := filepath.Join(g.cfg.InboxPath, filename)
	dst := filepath.Join(destDir, filename)
	if err := os.Rename(src, dst); err != nil && g.log != nil {
		g.log.WithFields(dclog.Ctx{"filename": filename, "dest": destDir, "err": err}).Warn("ingest: move after processing failed")
	}
}
