package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

func testEvent(docID string) domain.EventPayload {
	contentID := "blob-" + docID
	return domain.EventPayload{
		Type:       domain.EventDocumentCreated,
		SyncRunID:  "run-1",
		SourceID:   "src-1",
		DocumentID: docID,
		ContentID:  &contentID,
		Metadata:   domain.EventMetadata{Title: docID},
	}
}

func TestEventQueueEnqueueClaimAck(t *testing.T) {
	store := newTestStore(t)
	queue := store.EventQueue()
	ctx := context.Background()

	id1, err := queue.Enqueue(ctx, "src-1", testEvent("d1"))
	require.NoError(t, err)
	id2, err := queue.Enqueue(ctx, "src-1", testEvent("d2"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	items, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.QueueProcessing, items[0].Status)
	assert.Equal(t, "d1", items[0].Payload.DocumentID)
	assert.Equal(t, "d2", items[1].Payload.DocumentID)

	// Claimed rows are invisible to a second claimer.
	again, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, queue.Ack(ctx, id1))
	require.NoError(t, queue.Ack(ctx, id1)) // idempotent

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Processing)
}

func TestEventQueueAtLeastOnceRedelivery(t *testing.T) {
	store := newTestStore(t)
	queue := store.EventQueue()
	ctx := context.Background()

	var ids []string
	for _, doc := range []string{"e1", "e2", "e3"} {
		id, err := queue.Enqueue(ctx, "src-1", testEvent(doc))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Consumer A takes two, consumer B gets the remaining one.
	batchA, err := queue.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batchA, 2)
	batchB, err := queue.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batchB, 1)

	// A acks e1 and crashes before acking e2: the crash shows up as a nack
	// from its supervisor.
	require.NoError(t, queue.Ack(ctx, batchA[0].ID))
	require.NoError(t, queue.Nack(ctx, batchA[1].ID, "consumer lost"))
	require.NoError(t, queue.Ack(ctx, batchB[0].ID))

	moved, err := queue.RetryFailed(ctx, 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	redelivered, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, ids[1], redelivered[0].ID)
	assert.Equal(t, 1, redelivered[0].RetryCount)
	require.NoError(t, queue.Ack(ctx, redelivered[0].ID))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Completed)
}

func TestEventQueueDeadLetterAfterMaxRetries(t *testing.T) {
	store := newTestStore(t)
	queue := store.EventQueue()
	ctx := context.Background()

	id, err := queue.Enqueue(ctx, "src-1", testEvent("doomed"))
	require.NoError(t, err)

	for i := 0; i < domain.DefaultMaxRetries; i++ {
		items, err := queue.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		if len(items) == 0 {
			// Failed rows need a retry pass before they can be claimed.
			moved, err := queue.RetryFailed(ctx, 3600)
			require.NoError(t, err)
			require.Equal(t, 1, moved)
			items, err = queue.ClaimBatch(ctx, 1)
			require.NoError(t, err)
			require.Len(t, items, 1)
		}
		require.NoError(t, queue.Nack(ctx, id, "still broken"))
	}

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadLetter)

	// Dead-letter rows are not retried.
	moved, err := queue.RetryFailed(ctx, 3600)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestEventQueueNotifications(t *testing.T) {
	store := newTestStore(t)
	queue := store.EventQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "src-1", testEvent("n1"))
	require.NoError(t, err)

	select {
	case <-queue.Notifications():
	default:
		t.Fatal("expected a pending wakeup after enqueue")
	}
}

func TestEventQueueNackUnknownID(t *testing.T) {
	store := newTestStore(t)
	err := store.EventQueue().Nack(context.Background(), "missing", "whatever")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
