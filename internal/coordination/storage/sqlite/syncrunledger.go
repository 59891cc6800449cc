package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

type syncRunLedger struct {
	store *Store
}

var _ ports.SyncRunLedger = (*syncRunLedger)(nil)

// Create inserts a new row in status=running. The UNIQUE partial index
// idx_sync_runs_one_running_per_source turns a concurrent double-insert
// into a constraint violation rather than two running rows for the same
// source; the caller (syncmanager.Manager.Trigger) is expected to treat
// that as domain.ErrSyncAlreadyRunning.
func (l *syncRunLedger) Create(ctx context.Context, run domain.SyncRun) (domain.SyncRun, error) {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			run.ID = uuid.NewString()
		} else {
			run.ID = id.String()
		}
	}
	now := time.Now().UTC()
	run.Status = domain.SyncRunRunning
	run.StartedAt = &now
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := l.store.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, source_id, source_type, sync_type, trigger_type, status, started_at,
			 documents_scanned, documents_processed, documents_updated, error_message,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'running', ?, 0, 0, 0, '', ?, ?)
	`, run.ID, run.SourceID, string(run.SourceType), string(run.SyncType), string(run.Trigger),
		run.StartedAt, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.SyncRun{}, domain.ErrSyncAlreadyRunning
		}
		return domain.SyncRun{}, fmt.Errorf("%w: creating sync run: %v", domain.ErrBackend, err)
	}

	notify(l.store.syncRunNotify)
	return run, nil
}

func (l *syncRunLedger) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	run, err := scanSyncRun(l.store.db.QueryRowContext(ctx, `
		SELECT id, source_id, source_type, sync_type, trigger_type, status, started_at,
		       completed_at, documents_scanned, documents_processed, documents_updated,
		       error_message, created_at, updated_at
		FROM sync_runs WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching sync run: %v", domain.ErrBackend, err)
	}
	return &run, nil
}

func (l *syncRunLedger) GetRunning(ctx context.Context, sourceID string) (*domain.SyncRun, error) {
	run, err := scanSyncRun(l.store.db.QueryRowContext(ctx, `
		SELECT id, source_id, source_type, sync_type, trigger_type, status, started_at,
		       completed_at, documents_scanned, documents_processed, documents_updated,
		       error_message, created_at, updated_at
		FROM sync_runs WHERE source_id = ? AND status = 'running'
	`, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching running sync run: %v", domain.ErrBackend, err)
	}
	return &run, nil
}

func (l *syncRunLedger) CountRunning(ctx context.Context, sourceType domain.SourceType) (int, int, error) {
	var total int
	if err := l.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_runs WHERE status = 'running'`,
	).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("%w: counting running sync runs: %v", domain.ErrBackend, err)
	}

	var perType int
	if err := l.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_runs WHERE status = 'running' AND source_type = ?`, string(sourceType),
	).Scan(&perType); err != nil {
		return 0, 0, fmt.Errorf("%w: counting running sync runs by type: %v", domain.ErrBackend, err)
	}

	return total, perType, nil
}

// Progress and heartbeat writes are idempotent against the run's lifecycle:
// once the run has left 'running' (completed, cancelled by an operator,
// failed by the staleness sweep) a late report from the connector is
// silently discarded rather than rejected, so an in-flight worker racing a
// terminal transition never sees an error. Only Complete, Fail and Cancel
// reject when the run is not running.

func (l *syncRunLedger) IncrementScanned(ctx context.Context, id string, n int64) error {
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs SET documents_scanned = documents_scanned + ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, n, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: incrementing scanned count: %v", domain.ErrBackend, err)
	}
	applied, err := l.discardMissedWrite(ctx, res, id)
	if err != nil {
		return err
	}
	if applied {
		notify(l.store.syncRunNotify)
	}
	return nil
}

func (l *syncRunLedger) IncrementProcessed(ctx context.Context, id string, updated bool) error {
	updatedDelta := 0
	if updated {
		updatedDelta = 1
	}
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET documents_processed = documents_processed + 1,
		    documents_updated = documents_updated + ?,
		    updated_at = ?
		WHERE id = ? AND status = 'running'
	`, updatedDelta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: incrementing processed count: %v", domain.ErrBackend, err)
	}
	applied, err := l.discardMissedWrite(ctx, res, id)
	if err != nil {
		return err
	}
	if applied {
		notify(l.store.syncRunNotify)
	}
	return nil
}

func (l *syncRunLedger) Heartbeat(ctx context.Context, id string) error {
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs SET updated_at = ? WHERE id = ? AND status = 'running'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: heartbeating sync run: %v", domain.ErrBackend, err)
	}
	applied, err := l.discardMissedWrite(ctx, res, id)
	if err != nil {
		return err
	}
	if applied {
		notify(l.store.syncRunNotify)
	}
	return nil
}

// SetConnectorState couples the cursor checkpoint to the run's heartbeat:
// both writes commit together or not at all. A checkpoint arriving after
// the run turned terminal is discarded whole, cursor included, since the
// run's results are already being thrown away.
func (l *syncRunLedger) SetConnectorState(ctx context.Context, id string, state string) error {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning connector state transaction: %v", domain.ErrBackend, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE sync_runs SET updated_at = ? WHERE id = ? AND status = 'running'
	`, now, id)
	if err != nil {
		return fmt.Errorf("%w: heartbeating sync run for state write: %v", domain.ErrBackend, err)
	}
	applied, err := l.discardMissedWrite(ctx, res, id)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sources SET connector_state = ?, updated_at = ?
		WHERE id = (SELECT source_id FROM sync_runs WHERE id = ?)
	`, state, now, id)
	if err != nil {
		return fmt.Errorf("%w: writing connector state: %v", domain.ErrBackend, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing connector state: %v", domain.ErrBackend, err)
	}
	notify(l.store.syncRunNotify)
	return nil
}

func (l *syncRunLedger) Complete(ctx context.Context, id string, documentsProcessed, documentsUpdated int64) error {
	now := time.Now().UTC()
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'completed', completed_at = ?, updated_at = ?,
		    documents_processed = ?, documents_updated = ?
		WHERE id = ? AND status = 'running'
	`, now, now, documentsProcessed, documentsUpdated, id)
	if err != nil {
		return fmt.Errorf("%w: completing sync run: %v", domain.ErrBackend, err)
	}
	if err := l.rejectMissedWrite(ctx, res, id); err != nil {
		return err
	}
	l.stampSourceStatus(ctx, id, domain.SourceSyncOK, now)
	notify(l.store.syncRunNotify)
	return nil
}

func (l *syncRunLedger) Fail(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'failed', completed_at = ?, updated_at = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, now, now, errMsg, id)
	if err != nil {
		return fmt.Errorf("%w: failing sync run: %v", domain.ErrBackend, err)
	}
	if err := l.rejectMissedWrite(ctx, res, id); err != nil {
		return err
	}
	l.stampSourceStatus(ctx, id, domain.SourceSyncError, now)
	notify(l.store.syncRunNotify)
	return nil
}

// stampSourceStatus reflects a run's terminal outcome onto the owning
// Source's coarse health tag and last-sync timestamp. Best-effort: the run
// transition has already committed.
func (l *syncRunLedger) stampSourceStatus(ctx context.Context, runID string, status domain.SyncStatusTag, now time.Time) {
	_, err := l.store.db.ExecContext(ctx, `
		UPDATE sources SET sync_status = ?, last_sync_at = ?, updated_at = ?
		WHERE id = (SELECT source_id FROM sync_runs WHERE id = ?)
	`, string(status), now, now, runID)
	if err != nil {
		logger.Warn("sqlite: stamping source status for run %s: %v", runID, err)
	}
}

func (l *syncRunLedger) Cancel(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("%w: cancelling sync run: %v", domain.ErrBackend, err)
	}
	if err := l.rejectMissedWrite(ctx, res, id); err != nil {
		return err
	}
	notify(l.store.syncRunNotify)
	return nil
}

func (l *syncRunLedger) RecoverStale(ctx context.Context, staleAfterSeconds int64) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(staleAfterSeconds) * time.Second)
	now := time.Now().UTC()
	// Sources are stamped first, while the runs still match the predicate.
	_, err := l.store.db.ExecContext(ctx, `
		UPDATE sources SET sync_status = 'error', updated_at = ?
		WHERE id IN (SELECT source_id FROM sync_runs WHERE status = 'running' AND updated_at < ?)
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: stamping sources for stale sync runs: %v", domain.ErrBackend, err)
	}
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'failed', completed_at = ?, updated_at = ?,
		    error_message = 'sync run timed out: no progress reported before staleness threshold'
		WHERE status = 'running' AND updated_at < ?
	`, now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: recovering stale sync runs: %v", domain.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		notify(l.store.syncRunNotify)
	}
	return int(n), nil
}

func (l *syncRunLedger) FailAllRunning(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	_, err := l.store.db.ExecContext(ctx, `
		UPDATE sources SET sync_status = 'error', updated_at = ?
		WHERE id IN (SELECT source_id FROM sync_runs WHERE status = 'running')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: stamping sources for interrupted sync runs: %v", domain.ErrBackend, err)
	}
	res, err := l.store.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = 'failed', completed_at = ?, updated_at = ?,
		    error_message = 'sync run interrupted by coordinator restart'
		WHERE status = 'running'
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("%w: failing all running sync runs: %v", domain.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		notify(l.store.syncRunNotify)
	}
	return int(n), nil
}

func (l *syncRunLedger) Notifications() <-chan struct{} {
	return l.store.syncRunNotify
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (domain.SyncRun, error) {
	var run domain.SyncRun
	var sourceType, syncType, trigger, status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.SourceID, &sourceType, &syncType, &trigger, &status,
		&startedAt, &completedAt, &run.DocumentsScanned, &run.DocumentsProcessed,
		&run.DocumentsUpdated, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return run, err
	}

	run.SourceType = domain.SourceType(sourceType)
	run.SyncType = domain.SyncType(syncType)
	run.Trigger = domain.TriggerType(trigger)
	run.Status = domain.SyncRunStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// rejectMissedWrite distinguishes why a status-guarded UPDATE touched no
// rows: an unknown run is ErrNotFound, a run outside 'running' is
// ErrInvalidTransition.
func (l *syncRunLedger) rejectMissedWrite(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking affected rows: %v", domain.ErrBackend, err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := l.store.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sync_runs WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: checking sync run existence: %v", domain.ErrBackend, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

// discardMissedWrite is the idempotent counterpart for progress and
// heartbeat writes: an unknown run is still ErrNotFound, but a run outside
// 'running' is a silent no-op (applied=false, no error).
func (l *syncRunLedger) discardMissedWrite(ctx context.Context, res sql.Result, id string) (bool, error) {
	err := l.rejectMissedWrite(ctx, res, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return false, nil
	default:
		return false, err
	}
}

// isUniqueConstraintErr detects SQLite's UNIQUE constraint violation message,
// which modernc.org/sqlite surfaces as a plain error string rather than a
// typed sentinel.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
