// Package indexer is the consumer side of the Event Queue: it claims
// batches, upserts the minimal document stub rows, feeds the Embedding
// Queue, and acks or nacks. The real indexer's extraction and ranking
// pipeline is out of scope; this consumer exists so the queue contract
// (at-least-once, idempotent by deterministic document ID, retry to
// dead-letter) is exercised end to end inside the coordinator process.
package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// staleEmbeddingTimeout is how long an embedding job may sit in processing
// before it is handed back to the pool.
const staleEmbeddingTimeout = 10 * time.Minute

// Config tunes the consumer loop.
type Config struct {
	// BatchSize is how many events one claim pulls; this is the consumer's
	// own backpressure knob.
	BatchSize int

	// PollInterval floors how often the loop re-checks for work when no
	// notification arrives.
	PollInterval time.Duration

	// RetryWindow bounds how old a failed event may be and still be moved
	// back to pending by the periodic retry pass.
	RetryWindow time.Duration
}

// Consumer drains the Event Queue into the document store.
type Consumer struct {
	cfg        Config
	events     ports.EventQueue
	documents  ports.DocumentStore
	embeddings ports.EmbeddingQueue
}

// New builds a Consumer.
func New(cfg Config, events ports.EventQueue, documents ports.DocumentStore, embeddings ports.EmbeddingQueue) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 24 * time.Hour
	}
	return &Consumer{cfg: cfg, events: events, documents: documents, embeddings: embeddings}
}

// Run processes events until ctx is cancelled. It polls once before
// waiting on the notification channel, so an enqueue that happened before
// this consumer started is never missed.
func (c *Consumer) Run(ctx context.Context) error {
	// Embedding jobs claimed by a previous process life are stuck in
	// processing; hand them back before consuming anything.
	if n, err := c.embeddings.RecoverStaleProcessing(ctx, int64(staleEmbeddingTimeout.Seconds())); err != nil {
		logger.Warn("indexer: recovering stale embedding jobs at startup: %v", err)
	} else if n > 0 {
		logger.Info("indexer: recovered %d stale embedding jobs at startup", n)
	}

	notify := c.events.Notifications()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	retryTicker := time.NewTicker(c.cfg.PollInterval * 12)
	defer retryTicker.Stop()

	for {
		c.drain(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-ticker.C:
		case <-retryTicker.C:
			if n, err := c.events.RetryFailed(ctx, int64(c.cfg.RetryWindow.Seconds())); err != nil {
				logger.Warn("indexer: retrying failed events: %v", err)
			} else if n > 0 {
				logger.Info("indexer: requeued %d failed events", n)
			}
			if n, err := c.embeddings.RecoverStaleProcessing(ctx, int64(staleEmbeddingTimeout.Seconds())); err != nil {
				logger.Warn("indexer: recovering stale embedding jobs: %v", err)
			} else if n > 0 {
				logger.Info("indexer: recovered %d stale embedding jobs", n)
			}
		}
	}
}

// drain claims and processes batches until the queue is empty.
func (c *Consumer) drain(ctx context.Context) {
	for {
		items, err := c.events.ClaimBatch(ctx, c.cfg.BatchSize)
		if err != nil {
			logger.Warn("indexer: claiming events: %v", err)
			return
		}
		if len(items) == 0 {
			return
		}
		for _, item := range items {
			c.process(ctx, item)
		}
	}
}

func (c *Consumer) process(ctx context.Context, item domain.EventQueueItem) {
	if err := c.apply(ctx, item.Payload); err != nil {
		logger.Warn("indexer: processing event %s: %v", item.ID, err)
		if nackErr := c.events.Nack(ctx, item.ID, err.Error()); nackErr != nil {
			logger.Warn("indexer: nacking event %s: %v", item.ID, nackErr)
		}
		return
	}
	if err := c.events.Ack(ctx, item.ID); err != nil {
		logger.Warn("indexer: acking event %s: %v", item.ID, err)
	}
}

// apply performs the document mutation one event describes. Creates and
// updates are the same upsert; only a successful upsert feeds the
// Embedding Queue, and only then if a provider is current (the queue
// enforces the gate itself).
func (c *Consumer) apply(ctx context.Context, event domain.EventPayload) error {
	switch event.Type {
	case domain.EventDocumentCreated, domain.EventDocumentUpdated:
		doc := domain.Document{
			ID:        event.DocumentID,
			SourceID:  event.SourceID,
			Title:     event.Metadata.Title,
			ContentID: event.ContentID,
		}
		if err := c.documents.Upsert(ctx, doc); err != nil {
			return err
		}
		if _, err := c.embeddings.Enqueue(ctx, event.DocumentID); err != nil {
			// Embedding is best-effort relative to the document write; the
			// document row already landed, so the event still acks.
			logger.Warn("indexer: enqueueing embedding for %s: %v", event.DocumentID, err)
		}
		return nil
	case domain.EventDocumentDeleted:
		err := c.documents.Delete(ctx, event.DocumentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	default:
		// Unknown types exhaust retries into dead_letter where an operator
		// can inspect them.
		return errors.New("unknown event type: " + string(event.Type))
	}
}
