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

type embeddingProviderStore struct {
	store *Store
}

var _ ports.EmbeddingProviderStore = (*embeddingProviderStore)(nil)

func (s *embeddingProviderStore) Current(ctx context.Context) (*domain.EmbeddingProvider, error) {
	var p domain.EmbeddingProvider
	err := s.store.db.QueryRowContext(ctx, `
		SELECT id, name, model, dimension, is_current, created_at
		FROM embedding_providers WHERE is_current = 1
		LIMIT 1
	`).Scan(&p.ID, &p.Name, &p.Model, &p.Dimension, &p.IsCurrent, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching current embedding provider: %v", domain.ErrBackend, err)
	}
	return &p, nil
}

// SetCurrent flips is_current atomically: the unique partial index on
// is_current=1 means only one row may hold it, so the clear-then-set must
// run in one transaction.
func (s *embeddingProviderStore) SetCurrent(ctx context.Context, id string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning set-current transaction: %v", domain.ErrBackend, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE embedding_providers SET is_current = 0 WHERE is_current = 1`); err != nil {
		return fmt.Errorf("%w: clearing current embedding provider: %v", domain.ErrBackend, err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE embedding_providers SET is_current = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: setting current embedding provider: %v", domain.ErrBackend, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking set-current result: %v", domain.ErrBackend, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}

	return tx.Commit()
}

func (s *embeddingProviderStore) Save(ctx context.Context, p domain.EmbeddingProvider) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO embedding_providers (id, name, model, dimension, is_current, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, model = excluded.model, dimension = excluded.dimension
	`, p.ID, p.Name, p.Model, p.Dimension, createdAt)
	if err != nil {
		return fmt.Errorf("%w: saving embedding provider: %v", domain.ErrBackend, err)
	}
	return nil
}
