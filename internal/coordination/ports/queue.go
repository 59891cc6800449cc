package ports

import (
	"context"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// EventQueue is the durable, at-least-once queue between connector workers
// and the indexer.
type EventQueue interface {
	// Enqueue inserts event as pending and returns its generated ID.
	Enqueue(ctx context.Context, sourceID string, event domain.EventPayload) (string, error)

	// ClaimBatch atomically claims up to n pending rows, ordered by
	// created_at, skipping rows already claimed by another caller.
	ClaimBatch(ctx context.Context, n int) ([]domain.EventQueueItem, error)

	// Ack marks id completed. Idempotent.
	Ack(ctx context.Context, id string) error

	// Nack records a processing failure; id moves to dead_letter once
	// retry_count reaches max_retries, otherwise back to failed.
	Nack(ctx context.Context, id string, errMsg string) error

	// RetryFailed moves failed rows created within the retention window
	// back to pending, returning how many were moved.
	RetryFailed(ctx context.Context, retentionWindowSeconds int64) (int, error)

	// Stats returns status counts over the last 24h.
	Stats(ctx context.Context) (domain.QueueStats, error)

	// Cleanup deletes completed/dead_letter rows older than retentionDays.
	Cleanup(ctx context.Context, retentionDays int) error

	// Notifications returns a channel that receives a value whenever a row
	// is enqueued or moved back to pending by RetryFailed, for poll-free
	// consumers. Callers must drain
	// it; it is never closed by the queue.
	Notifications() <-chan struct{}
}

// EmbeddingQueue is the durable queue of document IDs awaiting
// vectorization, gated on an embedding provider being current.
type EmbeddingQueue interface {
	// Enqueue inserts a pending row for documentID and returns its ID. It
	// returns "" with no error if no embedding provider is current, and the
	// existing row's ID if a pending/processing row for this document
	// already exists.
	Enqueue(ctx context.Context, documentID string) (string, error)

	// ClaimBatch claims up to n rows that are pending, or failed with
	// retry_count < 3.
	ClaimBatch(ctx context.Context, n int) ([]domain.EmbeddingQueueItem, error)

	// Ack marks id completed.
	Ack(ctx context.Context, id string) error

	// Nack records a processing failure for id.
	Nack(ctx context.Context, id string, errMsg string) error

	// RecoverStaleProcessing reverts processing rows whose
	// processing_started_at is older than timeoutSeconds back to pending.
	RecoverStaleProcessing(ctx context.Context, timeoutSeconds int64) (int, error)

	// Stats returns status counts over the last 24h.
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// EmbeddingProviderStore tracks which embedding provider, if any, is
// current; EmbeddingQueue.Enqueue consults it to implement the embedding
// gate invariant.
type EmbeddingProviderStore interface {
	// Current returns the provider row marked current, or nil if none.
	Current(ctx context.Context) (*domain.EmbeddingProvider, error)

	// SetCurrent marks id as the sole current provider, clearing any
	// previous one.
	SetCurrent(ctx context.Context, id string) error

	// Save creates or updates a provider row.
	Save(ctx context.Context, p domain.EmbeddingProvider) error
}
