package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

type documentStore struct {
	store *Store
}

var _ ports.DocumentStore = (*documentStore)(nil)

func (d *documentStore) Upsert(ctx context.Context, doc domain.Document) error {
	var contentID any
	if doc.ContentID != nil {
		contentID = *doc.ContentID
	}
	_, err := d.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_id, title, content_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			title = excluded.title,
			content_id = excluded.content_id,
			updated_at = excluded.updated_at
	`, doc.ID, doc.SourceID, doc.Title, contentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: upserting document: %v", domain.ErrBackend, err)
	}
	return nil
}

func (d *documentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	var contentID sql.NullString
	err := d.store.db.QueryRowContext(ctx, `
		SELECT id, source_id, title, content_id, updated_at FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.SourceID, &doc.Title, &contentID, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching document: %v", domain.ErrBackend, err)
	}
	if contentID.Valid {
		s := contentID.String
		doc.ContentID = &s
	}
	return &doc, nil
}

func (d *documentStore) Delete(ctx context.Context, id string) error {
	_, err := d.store.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting document: %v", domain.ErrBackend, err)
	}
	return nil
}
