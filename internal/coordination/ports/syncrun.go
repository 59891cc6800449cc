package ports

import (
	"context"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// SyncRunLedger is the append-once record of sync attempts. Each row moves
// running -> completed/failed/cancelled exactly once; any other transition
// is rejected.
type SyncRunLedger interface {
	// Create inserts a new row in status=running (the ledger never stores
	// pending rows that the Sync Manager hasn't yet admitted; admission and
	// creation happen together, see syncmanager.Manager.Trigger).
	Create(ctx context.Context, run domain.SyncRun) (domain.SyncRun, error)

	// Get returns a run by ID.
	Get(ctx context.Context, id string) (*domain.SyncRun, error)

	// GetRunning returns the running SyncRun for sourceID, or nil.
	GetRunning(ctx context.Context, sourceID string) (*domain.SyncRun, error)

	// CountRunning returns the total running count, and the running count
	// for sourceType, for admission checks.
	CountRunning(ctx context.Context, sourceType domain.SourceType) (total int, perType int, err error)

	// IncrementScanned bumps documents_scanned by n and stamps updated_at.
	// A no-op when the run is no longer running.
	IncrementScanned(ctx context.Context, id string, n int64) error

	// IncrementProcessed bumps documents_processed (and, when updated is
	// true, documents_updated) by 1 and stamps updated_at. A no-op when
	// the run is no longer running.
	IncrementProcessed(ctx context.Context, id string, updated bool) error

	// Heartbeat stamps updated_at without changing any other field. A
	// no-op when the run is no longer running.
	Heartbeat(ctx context.Context, id string) error

	// SetConnectorState writes the owning Source's connector-state document
	// and stamps the run's updated_at in the same transaction, so a
	// checkpoint can never outrun observable progress. A no-op, cursor
	// included, when the run is no longer running.
	SetConnectorState(ctx context.Context, id string, state string) error

	// Complete transitions id to completed with final totals. Rejects if
	// the run is not running.
	Complete(ctx context.Context, id string, documentsProcessed, documentsUpdated int64) error

	// Fail transitions id to failed with errMsg. Rejects if the run is not
	// running.
	Fail(ctx context.Context, id string, errMsg string) error

	// Cancel transitions id to cancelled. Rejects if the run is not
	// running.
	Cancel(ctx context.Context, id string) error

	// RecoverStale transitions running rows whose updated_at is older than
	// staleAfterSeconds to failed with the interrupted message, returning
	// how many were recovered.
	RecoverStale(ctx context.Context, staleAfterSeconds int64) (int, error)

	// FailAllRunning transitions every running row to failed with the
	// interrupted-by-restart message; called once at coordinator startup.
	FailAllRunning(ctx context.Context) (int, error)

	// Notifications returns a channel that receives a value on every
	// create/update, driving the SSE progress stream.
	Notifications() <-chan struct{}
}

// SourceStore persists Source rows, including their scheduling fields and
// the opaque per-connector cursor document.
type SourceStore interface {
	Save(ctx context.Context, source domain.Source) error
	Get(ctx context.Context, id string) (*domain.Source, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Source, error)

	// ListDue returns active, non-deleted sources whose next_sync_at is
	// null or has passed, ordered by next_sync_at with nulls first.
	ListDue(ctx context.Context, now int64) ([]domain.Source, error)

	// SetNextSyncAt advances the schedule for id.
	SetNextSyncAt(ctx context.Context, id string, unixSeconds int64) error

	// SetConnectorState atomically writes the opaque per-connector cursor
	// document. Checkpoints tied to a live run should go through
	// SyncRunLedger.SetConnectorState instead, which couples the write to
	// the run's heartbeat.
	SetConnectorState(ctx context.Context, id string, state string) error

	// SetSyncStatus updates the Source's coarse health tag.
	SetSyncStatus(ctx context.Context, id string, status domain.SyncStatusTag) error
}

// CredentialsStore persists ServiceCredentials, one row per Source.
type CredentialsStore interface {
	Save(ctx context.Context, creds domain.ServiceCredentials) error
	GetBySourceID(ctx context.Context, sourceID string) (*domain.ServiceCredentials, error)
	Delete(ctx context.Context, id string) error
}
