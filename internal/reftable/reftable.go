// Package reftable implements the C8 reference-table syncer: whole-replace
// and batched key-driven reconcile between a local and a remote connection
// (spec.md §4.8).
package reftable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SyncType selects the reconciliation algorithm.
type SyncType int

const (
	// SyncWholeReplace deletes and reinserts the whole local table in one
	// transaction (spec.md §4.8 synctype=1).
	SyncWholeReplace SyncType = 1
	// SyncBatchedKeyDriven streams remote keys and reconciles in batches
	// of at most MaxCount keys (spec.md §4.8 synctype=2).
	SyncBatchedKeyDriven SyncType = 2
)

// Config describes one reftable sync (spec.md §6 tags linktname,
// localtname, remotecols, localcols, rwhere, lwhere, synctype,
// remotekeycol, localkeycol, maxcount).
type Config struct {
	SyncType   SyncType
	LocalTable string
	LinkTable  string // remote_link: the local-side view/dblink name used to select from the remote table
	LocalCols  string
	RemoteCols string
	LWhere     string // local delete predicate (whole-replace mode)
	RWhere     string // remote select predicate
	RemoteKey  string
	LocalKey   string
	MaxCount   int // batch size for key-driven mode
}

// Syncer drives one reftable reconciliation run. local and remote may be
// the same *sql.DB when linkTable already bridges databases (e.g. via a
// driver-level cross-database view); they are kept distinct here because
// spec.md §4.8 mode 2 explicitly uses "a separate connection" for the
// remote key stream.
type Syncer struct {
	cfg    Config
	local  *sql.DB
	remote *sql.DB
}

// New builds a Syncer.
func New(cfg Config, local, remote *sql.DB) *Syncer {
	return &Syncer{cfg: cfg, local: local, remote: remote}
}

// Run dispatches to the configured sync mode.
func (s *Syncer) Run(ctx context.Context) error {
	switch s.cfg.SyncType {
	case SyncWholeReplace:
		return s.runWholeReplace(ctx)
	case SyncBatchedKeyDriven:
		return s.runBatchedKeyDriven(ctx)
	default:
		return fmt.Errorf("reftable: unknown synctype %d", s.cfg.SyncType)
	}
}

// runWholeReplace implements spec.md §4.8 synctype=1: a single transaction
// deleting the local rows matched by lwhere, then inserting the remote
// projection matched by rwhere.
func (s *Syncer) runWholeReplace(ctx context.Context) error {
	tx, err := s.local.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reftable: begin tx: %w", err)
	}

	deleteSQL := fmt.Sprintf("delete from %s", s.cfg.LocalTable)
	if s.cfg.LWhere != "" {
		deleteSQL += " where " + s.cfg.LWhere
	}
	if _, err := tx.ExecContext(ctx, deleteSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("reftable: delete local: %w", err)
	}

	insertSQL := fmt.Sprintf("insert into %s(%s) select %s from %s", s.cfg.LocalTable, s.cfg.LocalCols, s.cfg.RemoteCols, s.cfg.LinkTable)
	if s.cfg.RWhere != "" {
		insertSQL += " where " + s.cfg.RWhere
	}
	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("reftable: insert from remote: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reftable: commit: %w", err)
	}
	return nil
}

// runBatchedKeyDriven implements spec.md §4.8 synctype=2: stream remote
// keys from a separate connection, buffer up to MaxCount, and issue a
// delete+insert-by-key-IN-list transaction per batch, flushing a final
// partial batch.
func (s *Syncer) runBatchedKeyDriven(ctx context.Context) error {
	selectKeysSQL := fmt.Sprintf("select %s from %s", s.cfg.RemoteKey, s.cfg.LinkTable)
	if s.cfg.RWhere != "" {
		selectKeysSQL += " where " + s.cfg.RWhere
	}

	rows, err := s.remote.QueryContext(ctx, selectKeysSQL)
	if err != nil {
		return fmt.Errorf("reftable: select remote keys: %w", err)
	}
	defer rows.Close()

	batchSize := s.cfg.MaxCount
	if batchSize <= 0 {
		batchSize = 1000
	}

	var batch []any
	for rows.Next() {
		var key any
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("reftable: scan remote key: %w", err)
		}
		batch = append(batch, key)

		if len(batch) >= batchSize {
			if err := s.flushBatch(ctx, batch); err != nil {
				return err
			}
			batch = nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reftable: iterate remote keys: %w", err)
	}

	if len(batch) > 0 {
		if err := s.flushBatch(ctx, batch); err != nil {
			return err
		}
	}

	return nil
}

// flushBatch deletes and reinserts one batch of keys in a single local
// transaction (spec.md §4.8 "in a single transaction per batch").
func (s *Syncer) flushBatch(ctx context.Context, keys []any) error {
	tx, err := s.local.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reftable: begin batch tx: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")

	deleteSQL := fmt.Sprintf("delete from %s where %s in (%s)", s.cfg.LocalTable, s.cfg.LocalKey, placeholders)
	if _, err := tx.ExecContext(ctx, deleteSQL, keys...); err != nil {
		tx.Rollback()
		return fmt.Errorf("reftable: batch delete: %w", err)
	}

	insertSQL := fmt.Sprintf("insert into %s(%s) select %s from %s where %s in (%s)",
		s.cfg.LocalTable, s.cfg.LocalCols, s.cfg.RemoteCols, s.cfg.LinkTable, s.cfg.RemoteKey, placeholders)
	if _, err := tx.ExecContext(ctx, insertSQL, keys...); err != nil {
		tx.Rollback()
		return fmt.Errorf("reftable: batch insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reftable: commit batch: %w", err)
	}
	return nil
}
