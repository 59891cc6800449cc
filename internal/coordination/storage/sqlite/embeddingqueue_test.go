package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

func markProviderCurrent(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	providers := store.EmbeddingProviderStore()
	require.NoError(t, providers.Save(ctx, domain.EmbeddingProvider{
		ID: "prov-1", Name: "local", Model: "test-embed", Dimension: 384,
	}))
	require.NoError(t, providers.SetCurrent(ctx, "prov-1"))
}

func TestEmbeddingQueueGate(t *testing.T) {
	store := newTestStore(t)
	queue := store.EmbeddingQueue()
	ctx := context.Background()

	// No provider marked current: enqueue is a silent no-op.
	id, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	items, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	markProviderCurrent(t, store)

	id, err = queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err = queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "doc-1", items[0].DocumentID)
	assert.NotNil(t, items[0].ProcessingStartedAt)
}

func TestEmbeddingQueueDuplicateInFlightGuard(t *testing.T) {
	store := newTestStore(t)
	queue := store.EmbeddingQueue()
	ctx := context.Background()
	markProviderCurrent(t, store)

	first, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	second, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	items, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Still in flight (processing): no new row either.
	third, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, first, third)

	// Once completed, a fresh enqueue creates a new job.
	require.NoError(t, queue.Ack(ctx, first))
	fourth, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, fourth)
}

func TestEmbeddingQueueRetriesFailedUntilCap(t *testing.T) {
	store := newTestStore(t)
	queue := store.EmbeddingQueue()
	ctx := context.Background()
	markProviderCurrent(t, store)

	id, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)

	for i := 0; i < domain.DefaultMaxRetries; i++ {
		items, err := queue.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, items, 1, "attempt %d should be claimable", i)
		require.NoError(t, queue.Nack(ctx, id, "embedder down"))
	}

	// Retry budget exhausted: the row stays failed and unclaimable.
	items, err := queue.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestEmbeddingQueueRecoverStaleProcessing(t *testing.T) {
	store := newTestStore(t)
	queue := store.EmbeddingQueue()
	ctx := context.Background()
	markProviderCurrent(t, store)

	id, err := queue.Enqueue(ctx, "doc-1")
	require.NoError(t, err)
	items, err := queue.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Backdate the claim so it looks abandoned.
	_, err = store.db.Exec(
		`UPDATE embedding_queue SET processing_started_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), id)
	require.NoError(t, err)

	n, err := queue.RecoverStaleProcessing(ctx, 600)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err = queue.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
}

func TestEmbeddingProviderSetCurrentSwaps(t *testing.T) {
	store := newTestStore(t)
	providers := store.EmbeddingProviderStore()
	ctx := context.Background()

	require.NoError(t, providers.Save(ctx, domain.EmbeddingProvider{ID: "a", Name: "a", Model: "m1", Dimension: 256}))
	require.NoError(t, providers.Save(ctx, domain.EmbeddingProvider{ID: "b", Name: "b", Model: "m2", Dimension: 512}))

	require.NoError(t, providers.SetCurrent(ctx, "a"))
	current, err := providers.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "a", current.ID)

	require.NoError(t, providers.SetCurrent(ctx, "b"))
	current, err = providers.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "b", current.ID)

	assert.ErrorIs(t, providers.SetCurrent(ctx, "missing"), domain.ErrNotFound)
}
