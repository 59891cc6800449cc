package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

type sourceStore struct {
	store *Store
}

var _ ports.SourceStore = (*sourceStore)(nil)

func (s *sourceStore) Save(ctx context.Context, source domain.Source) error {
	configJSON, err := json.Marshal(source.Config)
	if err != nil {
		return fmt.Errorf("marshalling source config: %w", err)
	}

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	var nextSyncAt any
	if source.NextSyncAt != nil {
		nextSyncAt = *source.NextSyncAt
	}
	var lastSyncAt any
	if !source.LastSyncAt.IsZero() {
		lastSyncAt = source.LastSyncAt
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sources
			(id, name, type, config, active, is_deleted, last_sync_at, sync_status,
			 next_sync_at, scheduling_interval_seconds, connector_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			config = excluded.config,
			active = excluded.active,
			is_deleted = excluded.is_deleted,
			last_sync_at = excluded.last_sync_at,
			sync_status = excluded.sync_status,
			next_sync_at = excluded.next_sync_at,
			scheduling_interval_seconds = excluded.scheduling_interval_seconds,
			connector_state = excluded.connector_state,
			updated_at = excluded.updated_at
	`, source.ID, source.Name, string(source.Type), string(configJSON), boolToInt(source.Active),
		boolToInt(source.IsDeleted), lastSyncAt, string(source.SyncStatus), nextSyncAt,
		int64(source.SchedulingInterval.Seconds()), source.ConnectorState, source.CreatedAt, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: saving source: %v", domain.ErrBackend, err)
	}
	return nil
}

func (s *sourceStore) Get(ctx context.Context, id string) (*domain.Source, error) {
	source, err := scanSource(s.store.db.QueryRowContext(ctx, `
		SELECT id, name, type, config, active, is_deleted, last_sync_at, sync_status,
		       next_sync_at, scheduling_interval_seconds, connector_state, created_at, updated_at
		FROM sources WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching source: %v", domain.ErrBackend, err)
	}
	return &source, nil
}

func (s *sourceStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET is_deleted = 1, active = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: deleting source: %v", domain.ErrBackend, err)
	}
	return nil
}

func (s *sourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, type, config, active, is_deleted, last_sync_at, sync_status,
		       next_sync_at, scheduling_interval_seconds, connector_state, created_at, updated_at
		FROM sources WHERE is_deleted = 0
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sources: %v", domain.ErrBackend, err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func (s *sourceStore) ListDue(ctx context.Context, now int64) ([]domain.Source, error) {
	cutoff := time.Unix(now, 0).UTC()
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, type, config, active, is_deleted, last_sync_at, sync_status,
		       next_sync_at, scheduling_interval_seconds, connector_state, created_at, updated_at
		FROM sources
		WHERE active = 1 AND is_deleted = 0 AND (next_sync_at IS NULL OR next_sync_at <= ?)
		ORDER BY next_sync_at IS NOT NULL, next_sync_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: listing due sources: %v", domain.ErrBackend, err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func (s *sourceStore) SetNextSyncAt(ctx context.Context, id string, unixSeconds int64) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET next_sync_at = ?, updated_at = ? WHERE id = ?
	`, time.Unix(unixSeconds, 0).UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: setting next sync time: %v", domain.ErrBackend, err)
	}
	return nil
}

func (s *sourceStore) SetConnectorState(ctx context.Context, id string, state string) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET connector_state = ?, updated_at = ? WHERE id = ?
	`, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: setting connector state: %v", domain.ErrBackend, err)
	}
	return nil
}

func (s *sourceStore) SetSyncStatus(ctx context.Context, id string, status domain.SyncStatusTag) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET sync_status = ?, last_sync_at = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: setting sync status: %v", domain.ErrBackend, err)
	}
	return nil
}

func scanSources(rows *sql.Rows) ([]domain.Source, error) {
	var sources []domain.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning source row: %v", domain.ErrBackend, err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func scanSource(row rowScanner) (domain.Source, error) {
	var source domain.Source
	var sourceType, syncStatus, configJSON string
	var active, isDeleted int
	var lastSyncAt, nextSyncAt sql.NullTime
	var schedulingSeconds int64

	err := row.Scan(&source.ID, &source.Name, &sourceType, &configJSON, &active, &isDeleted,
		&lastSyncAt, &syncStatus, &nextSyncAt, &schedulingSeconds, &source.ConnectorState,
		&source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return source, err
	}

	source.Type = domain.SourceType(sourceType)
	source.SyncStatus = domain.SyncStatusTag(syncStatus)
	source.Active = active != 0
	source.IsDeleted = isDeleted != 0
	source.SchedulingInterval = time.Duration(schedulingSeconds) * time.Second
	if lastSyncAt.Valid {
		source.LastSyncAt = lastSyncAt.Time
	}
	if nextSyncAt.Valid {
		t := nextSyncAt.Time
		source.NextSyncAt = &t
	}
	if err := json.Unmarshal([]byte(configJSON), &source.Config); err != nil {
		return source, fmt.Errorf("unmarshalling source config: %w", err)
	}
	return source, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
