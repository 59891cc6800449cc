package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

// embeddingQueue implements ports.EmbeddingQueue. It shares the same
// single-process claim-serialization strategy as eventQueue; see that
// file's doc comment.
type embeddingQueue struct {
	store   *Store
	claimMu sync.Mutex
}

var _ ports.EmbeddingQueue = (*embeddingQueue)(nil)

// Enqueue is a silent no-op when there is no current embedding provider,
// and returns the existing ID when the document already has a pending or
// processing row. Callers never treat the gate as a failure.
func (q *embeddingQueue) Enqueue(ctx context.Context, documentID string) (string, error) {
	var hasCurrent bool
	err := q.store.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM embedding_providers WHERE is_current = 1)`,
	).Scan(&hasCurrent)
	if err != nil {
		return "", fmt.Errorf("%w: checking embedding provider gate: %v", domain.ErrBackend, err)
	}
	if !hasCurrent {
		return "", nil
	}

	var existingID string
	err = q.store.db.QueryRowContext(ctx, `
		SELECT id FROM embedding_queue
		WHERE document_id = ? AND status IN ('pending', 'processing')
		LIMIT 1
	`, documentID).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: checking embedding queue dup guard: %v", domain.ErrBackend, err)
	}

	id := uuid.NewString()
	_, err = q.store.db.ExecContext(ctx, `
		INSERT INTO embedding_queue (id, document_id, status, retry_count, created_at)
		VALUES (?, ?, 'pending', 0, ?)
	`, id, documentID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("%w: enqueueing embedding job: %v", domain.ErrBackend, err)
	}
	return id, nil
}

func (q *embeddingQueue) ClaimBatch(ctx context.Context, n int) ([]domain.EmbeddingQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning embedding claim transaction: %v", domain.ErrBackend, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM embedding_queue
		WHERE status = 'pending'
		   OR (status = 'failed' AND retry_count < ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, domain.DefaultMaxRetries, n)
	if err != nil {
		return nil, fmt.Errorf("%w: selecting claimable embedding jobs: %v", domain.ErrBackend, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning claimable embedding job id: %v", domain.ErrBackend, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating claimable embedding jobs: %v", domain.ErrBackend, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE embedding_queue
		SET status = 'processing', processing_started_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing embedding claim update: %v", domain.ErrBackend, err)
	}
	defer stmt.Close()

	items := make([]domain.EmbeddingQueueItem, 0, len(ids))
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return nil, fmt.Errorf("%w: claiming embedding job %s: %v", domain.ErrBackend, id, err)
		}
		item, err := scanEmbeddingByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing embedding claim: %v", domain.ErrBackend, err)
	}
	return items, nil
}

func (q *embeddingQueue) Ack(ctx context.Context, id string) error {
	_, err := q.store.db.ExecContext(ctx, `
		UPDATE embedding_queue SET status = 'completed', processed_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: acking embedding job: %v", domain.ErrBackend, err)
	}
	return nil
}

func (q *embeddingQueue) Nack(ctx context.Context, id string, errMsg string) error {
	var retryCount int
	err := q.store.db.QueryRowContext(ctx,
		`SELECT retry_count FROM embedding_queue WHERE id = ?`, id,
	).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: reading embedding job for nack: %v", domain.ErrBackend, err)
	}

	retryCount++
	status := "failed"
	if retryCount < domain.DefaultMaxRetries {
		status = "pending"
	}

	_, err = q.store.db.ExecContext(ctx, `
		UPDATE embedding_queue
		SET status = ?, retry_count = ?, error_message = ?, processing_started_at = NULL
		WHERE id = ?
	`, status, retryCount, errMsg, id)
	if err != nil {
		return fmt.Errorf("%w: nacking embedding job: %v", domain.ErrBackend, err)
	}
	return nil
}

// RecoverStaleProcessing resets embedding jobs stuck in 'processing' past
// timeoutSeconds back to 'pending', mirroring the Sync-Run ledger's
// staleness recovery.
func (q *embeddingQueue) RecoverStaleProcessing(ctx context.Context, timeoutSeconds int64) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutSeconds) * time.Second)
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE embedding_queue
		SET status = 'pending', processing_started_at = NULL
		WHERE status = 'processing' AND processing_started_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: recovering stale embedding jobs: %v", domain.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *embeddingQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM embedding_queue WHERE created_at > ? GROUP BY status
	`, cutoff)
	if err != nil {
		return stats, fmt.Errorf("%w: fetching embedding queue stats: %v", domain.ErrBackend, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("%w: scanning embedding queue stats: %v", domain.ErrBackend, err)
		}
		applyQueueStat(&stats, status, count)
	}
	return stats, rows.Err()
}

func scanEmbeddingByID(ctx context.Context, tx *sql.Tx, id string) (domain.EmbeddingQueueItem, error) {
	var item domain.EmbeddingQueueItem
	var status, errMsg string
	var processingStartedAt, processedAt sql.NullTime

	err := tx.QueryRowContext(ctx, `
		SELECT id, document_id, status, retry_count, processing_started_at,
		       processed_at, error_message, created_at
		FROM embedding_queue WHERE id = ?
	`, id).Scan(&item.ID, &item.DocumentID, &status, &item.RetryCount,
		&processingStartedAt, &processedAt, &errMsg, &item.CreatedAt)
	if err != nil {
		return item, fmt.Errorf("%w: scanning claimed embedding job %s: %v", domain.ErrBackend, id, err)
	}

	item.Status = domain.QueueStatus(status)
	item.ErrorMessage = errMsg
	if processingStartedAt.Valid {
		t := processingStartedAt.Time
		item.ProcessingStartedAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		item.ProcessedAt = &t
	}
	return item, nil
}
