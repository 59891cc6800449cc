package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

// eventQueue implements ports.EventQueue.
//
// SQLite has no FOR UPDATE SKIP LOCKED, so claimMu turns the
// claim-then-update sequence into a single critical section: two in-process
// claimers never race for the same rows, which is all a single coordinator
// process needs. A multi-process deployment would need a SKIP
// LOCKED-capable database; see DESIGN.md.
type eventQueue struct {
	store   *Store
	claimMu sync.Mutex
}

var _ ports.EventQueue = (*eventQueue)(nil)

func (q *eventQueue) Enqueue(ctx context.Context, sourceID string, event domain.EventPayload) (string, error) {
	payloadJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshalling event payload: %w", err)
	}

	id := uuid.NewString()
	_, err = q.store.db.ExecContext(ctx, `
		INSERT INTO connector_events_queue
			(id, source_id, event_type, payload, status, retry_count, max_retries, created_at, error_message)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, '')
	`, id, sourceID, string(event.Type), string(payloadJSON), domain.DefaultMaxRetries, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("%w: enqueueing event: %v", domain.ErrBackend, err)
	}

	notify(q.store.eventsNotify)
	return id, nil
}

func (q *eventQueue) ClaimBatch(ctx context.Context, n int) ([]domain.EventQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning claim transaction: %v", domain.ErrBackend, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM connector_events_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: selecting claimable events: %v", domain.ErrBackend, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning claimable event id: %v", domain.ErrBackend, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating claimable events: %v", domain.ErrBackend, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE connector_events_queue SET status = 'processing' WHERE id = ? AND status = 'pending'
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing claim update: %v", domain.ErrBackend, err)
	}
	defer stmt.Close()

	items := make([]domain.EventQueueItem, 0, len(ids))
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: claiming event %s: %v", domain.ErrBackend, id, err)
		}
		item, err := scanEventByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing claim: %v", domain.ErrBackend, err)
	}
	return items, nil
}

func (q *eventQueue) Ack(ctx context.Context, id string) error {
	_, err := q.store.db.ExecContext(ctx, `
		UPDATE connector_events_queue SET status = 'completed', processed_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: acking event: %v", domain.ErrBackend, err)
	}
	return nil
}

func (q *eventQueue) Nack(ctx context.Context, id string, errMsg string) error {
	var retryCount, maxRetries int
	err := q.store.db.QueryRowContext(ctx, `
		SELECT retry_count, max_retries FROM connector_events_queue WHERE id = ?
	`, id).Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: reading event for nack: %v", domain.ErrBackend, err)
	}

	retryCount++
	status := "failed"
	if retryCount >= maxRetries {
		status = "dead_letter"
	}

	_, err = q.store.db.ExecContext(ctx, `
		UPDATE connector_events_queue
		SET status = ?, retry_count = ?, error_message = ?
		WHERE id = ?
	`, status, retryCount, errMsg, id)
	if err != nil {
		return fmt.Errorf("%w: nacking event: %v", domain.ErrBackend, err)
	}
	return nil
}

func (q *eventQueue) RetryFailed(ctx context.Context, retentionWindowSeconds int64) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(retentionWindowSeconds) * time.Second)
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE connector_events_queue
		SET status = 'pending'
		WHERE status = 'failed' AND retry_count < max_retries AND created_at > ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: retrying failed events: %v", domain.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		notify(q.store.eventsNotify)
	}
	return int(n), nil
}

func (q *eventQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM connector_events_queue WHERE created_at > ? GROUP BY status
	`, cutoff)
	if err != nil {
		return stats, fmt.Errorf("%w: fetching event queue stats: %v", domain.ErrBackend, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("%w: scanning event queue stats: %v", domain.ErrBackend, err)
		}
		applyQueueStat(&stats, status, count)
	}
	return stats, rows.Err()
}

func (q *eventQueue) Cleanup(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	_, err := q.store.db.ExecContext(ctx, `
		DELETE FROM connector_events_queue
		WHERE (status = 'completed' AND processed_at < ?) OR (status = 'dead_letter' AND created_at < ?)
	`, cutoff, cutoff)
	if err != nil {
		return fmt.Errorf("%w: cleaning up event queue: %v", domain.ErrBackend, err)
	}
	_, err = q.store.db.ExecContext(ctx, "VACUUM")
	if err != nil {
		return fmt.Errorf("%w: vacuuming after cleanup: %v", domain.ErrBackend, err)
	}
	return nil
}

func (q *eventQueue) Notifications() <-chan struct{} {
	return q.store.eventsNotify
}

// scanEventByID reads back a full row inside the claiming transaction.
func scanEventByID(ctx context.Context, tx *sql.Tx, id string) (domain.EventQueueItem, error) {
	var item domain.EventQueueItem
	var eventType, payloadJSON, status, errMsg string
	var processedAt sql.NullTime

	err := tx.QueryRowContext(ctx, `
		SELECT id, source_id, event_type, payload, status, retry_count, max_retries,
		       created_at, processed_at, error_message
		FROM connector_events_queue WHERE id = ?
	`, id).Scan(&item.ID, &item.SourceID, &eventType, &payloadJSON, &status,
		&item.RetryCount, &item.MaxRetries, &item.CreatedAt, &processedAt, &errMsg)
	if err != nil {
		return item, fmt.Errorf("%w: scanning claimed event %s: %v", domain.ErrBackend, id, err)
	}

	item.EventType = domain.EventType(eventType)
	item.Status = domain.QueueStatus(status)
	item.ErrorMessage = errMsg
	if processedAt.Valid {
		t := processedAt.Time
		item.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
		return item, fmt.Errorf("unmarshalling event payload: %w", err)
	}
	return item, nil
}

func applyQueueStat(stats *domain.QueueStats, status string, count int64) {
	switch domain.QueueStatus(status) {
	case domain.QueuePending:
		stats.Pending = count
	case domain.QueueProcessing:
		stats.Processing = count
	case domain.QueueCompleted:
		stats.Completed = count
	case domain.QueueFailed:
		stats.Failed = count
	case domain.QueueDeadLetter:
		stats.DeadLetter = count
	}
}
