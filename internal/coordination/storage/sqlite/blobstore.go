package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

// textBatchSize caps how many IDs are included in a single IN(...) query for
// BatchGetText.
const textBatchSize = 50

type blobStore struct {
	store *Store
}

var _ ports.BlobStore = (*blobStore)(nil)

func (b *blobStore) Put(ctx context.Context, content []byte, contentType string) (string, error) {
	return b.putWithID(ctx, newBlobID(), content, contentType)
}

func (b *blobStore) PutWithPrefix(ctx context.Context, prefix string, content []byte, contentType string) (string, error) {
	return b.putWithID(ctx, prefix+"-"+newBlobID(), content, contentType)
}

func (b *blobStore) putWithID(ctx context.Context, id string, content []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO content_blobs (id, content_type, size, sha256, storage_backend, data, created_at)
		VALUES (?, ?, ?, ?, 'sqlite', ?, CURRENT_TIMESTAMP)
	`, id, contentType, len(content), hash, content)
	if err != nil {
		return "", fmt.Errorf("%w: storing blob: %v", domain.ErrBackend, err)
	}
	return id, nil
}

func (b *blobStore) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.store.db.QueryRowContext(ctx, `SELECT data FROM content_blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching blob: %v", domain.ErrBackend, err)
	}
	return data, nil
}

func (b *blobStore) Size(ctx context.Context, id string) (int64, error) {
	var size int64
	err := b.store.db.QueryRowContext(ctx, `SELECT size FROM content_blobs WHERE id = ?`, id).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: fetching blob size: %v", domain.ErrBackend, err)
	}
	return size, nil
}

func (b *blobStore) Delete(ctx context.Context, id string) error {
	_, err := b.store.db.ExecContext(ctx, `DELETE FROM content_blobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting blob: %v", domain.ErrBackend, err)
	}
	return nil
}

func (b *blobStore) BatchGetText(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += textBatchSize {
		end := start + textBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = strings.TrimSuffix(placeholders, ",")

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := b.store.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT id, data FROM content_blobs WHERE id IN (%s)`, placeholders), args...)
		if err != nil {
			return nil, fmt.Errorf("%w: batch fetching text: %v", domain.ErrBackend, err)
		}

		for rows.Next() {
			var id string
			var data []byte
			if err := rows.Scan(&id, &data); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: scanning batch text row: %v", domain.ErrBackend, err)
			}
			result[id] = string(data)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: iterating batch text rows: %v", domain.ErrBackend, err)
		}
		rows.Close()
	}
	return result, nil
}

func (b *blobStore) Metadata(ctx context.Context, id string) (domain.BlobMetadata, error) {
	var md domain.BlobMetadata
	err := b.store.db.QueryRowContext(ctx, `
		SELECT content_type, size, sha256 FROM content_blobs WHERE id = ?
	`, id).Scan(&md.ContentType, &md.Size, &md.SHA256)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BlobMetadata{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BlobMetadata{}, fmt.Errorf("%w: fetching blob metadata: %v", domain.ErrBackend, err)
	}
	return md, nil
}

func (b *blobStore) FindByHash(ctx context.Context, sha256Hex string) (string, error) {
	var id string
	err := b.store.db.QueryRowContext(ctx, `
		SELECT id FROM content_blobs WHERE sha256 = ? ORDER BY created_at ASC LIMIT 1
	`, sha256Hex).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: finding blob by hash: %v", domain.ErrBackend, err)
	}
	return id, nil
}

// newBlobID mints a time-ordered UUIDv7 for new blobs; see DESIGN.md for
// the ULID-versus-UUIDv7 decision.
func newBlobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
