package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

type credentialsStore struct {
	store *Store
}

var _ ports.CredentialsStore = (*credentialsStore)(nil)

func (c *credentialsStore) Save(ctx context.Context, creds domain.ServiceCredentials) error {
	if creds.ID == "" {
		creds.ID = uuid.NewString()
	}

	var expiry, lastValidated any
	if creds.Expiry != nil {
		expiry = *creds.Expiry
	}
	if !creds.LastValidatedAt.IsZero() {
		lastValidated = creds.LastValidatedAt
	}

	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO service_credentials
			(id, source_id, provider, auth_type, encrypted_blob, expiry, last_validated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			provider = excluded.provider,
			auth_type = excluded.auth_type,
			encrypted_blob = excluded.encrypted_blob,
			expiry = excluded.expiry,
			last_validated_at = excluded.last_validated_at
	`, creds.ID, creds.SourceID, creds.Provider, string(creds.AuthType), creds.EncryptedBlob,
		expiry, lastValidated)
	if err != nil {
		return fmt.Errorf("%w: saving credentials: %v", domain.ErrBackend, err)
	}
	return nil
}

func (c *credentialsStore) GetBySourceID(ctx context.Context, sourceID string) (*domain.ServiceCredentials, error) {
	var creds domain.ServiceCredentials
	var authType string
	var expiry, lastValidated sql.NullTime

	err := c.store.db.QueryRowContext(ctx, `
		SELECT id, source_id, provider, auth_type, encrypted_blob, expiry, last_validated_at
		FROM service_credentials WHERE source_id = ?
	`, sourceID).Scan(&creds.ID, &creds.SourceID, &creds.Provider, &authType,
		&creds.EncryptedBlob, &expiry, &lastValidated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching credentials: %v", domain.ErrBackend, err)
	}

	creds.AuthType = domain.AuthType(authType)
	if expiry.Valid {
		t := expiry.Time
		creds.Expiry = &t
	}
	if lastValidated.Valid {
		creds.LastValidatedAt = lastValidated.Time
	}
	return &creds, nil
}

func (c *credentialsStore) Delete(ctx context.Context, id string) error {
	_, err := c.store.db.ExecContext(ctx, `DELETE FROM service_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting credentials: %v", domain.ErrBackend, err)
	}
	return nil
}
