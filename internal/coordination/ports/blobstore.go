// Package ports declares the coordination plane's driven and driving
// interfaces, in a small-interface, context-first style.
package ports

import (
	"context"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// BlobStore is the content-addressed byte store document bodies are parked
// in before their events are queued. Two implementations exist: a
// relational backend (sqlite) and an object-store backend (s3blob).
type BlobStore interface {
	// Put stores bytes under a fresh ID and returns it.
	Put(ctx context.Context, content []byte, contentType string) (string, error)

	// PutWithPrefix is like Put but namespaces the ID under prefix, for
	// callers that want related blobs to sort together.
	PutWithPrefix(ctx context.Context, prefix string, content []byte, contentType string) (string, error)

	// Get returns the full bytes for id.
	Get(ctx context.Context, id string) ([]byte, error)

	// Size returns the byte length of id without fetching its content.
	Size(ctx context.Context, id string) (int64, error)

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// BatchGetText fetches many ids at once, decoding each as UTF-8 text.
	// The relational backend queries in chunks of sqlite.textBatchSize ids;
	// the object-store backend fetches one object per id.
	BatchGetText(ctx context.Context, ids []string) (map[string]string, error)

	// Metadata returns content type, size and hash without the bytes.
	Metadata(ctx context.Context, id string) (domain.BlobMetadata, error)

	// FindByHash returns the id of an existing blob with the given SHA-256
	// hex digest, or "" if none exists.
	FindByHash(ctx context.Context, sha256Hex string) (string, error)
}
