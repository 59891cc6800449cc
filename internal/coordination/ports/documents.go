package ports

import (
	"context"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// DocumentStore is the indexer-owned stub store the event consumer upserts
// into. Upsert is keyed on the deterministic document ID, which is what
// makes duplicate at-least-once deliveries idempotent.
type DocumentStore interface {
	Upsert(ctx context.Context, doc domain.Document) error
	Get(ctx context.Context, id string) (*domain.Document, error)
	Delete(ctx context.Context, id string) error
}
