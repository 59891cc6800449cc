package ports

import (
	"context"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// ConnectorClient is the JSON-over-HTTP client the Sync Manager uses to
// talk to connector worker processes.
type ConnectorClient interface {
	// Health checks a connector worker's liveness.
	Health(ctx context.Context, connectorURL string) error

	// Manifest fetches a connector worker's self-description.
	Manifest(ctx context.Context, connectorURL string) (domain.Manifest, error)

	// Sync posts a SyncRequest and returns once the connector has
	// acknowledged acceptance (not once the sync itself finishes).
	Sync(ctx context.Context, connectorURL string, req domain.SyncRequest) error

	// Cancel best-effort asks a connector to stop a running sync. Returns
	// domain.ErrNotSupported if the connector declined.
	Cancel(ctx context.Context, connectorURL string, req domain.CancelRequest) error

	// Action executes a connector-declared action.
	Action(ctx context.Context, connectorURL string, req domain.ActionRequest) (map[string]any, error)
}

// SyncManager is the driving port exposed to the operator HTTP API and the
// Scheduler: admission, dispatch, cancellation, staleness recovery.
type SyncManager interface {
	// Trigger admits and dispatches a sync for sourceID. Returns the created
	// SyncRun, or domain.ErrSyncAlreadyRunning / a *domain.ConcurrencyError
	// wrapping domain.ErrConcurrencyLimitReached if admission failed.
	Trigger(ctx context.Context, sourceID string, mode domain.SyncType, trigger domain.TriggerType) (domain.SyncRun, error)

	// Cancel asks the owning connector to stop syncRunID and marks the run
	// cancelled. Returns domain.ErrNotSupported, leaving the run running,
	// when the connector declares no cancel capability.
	Cancel(ctx context.Context, syncRunID string) error

	// RecoverStale transitions timed-out running SyncRuns to failed; called
	// by the Scheduler each tick and once at startup (with FailAllRunning
	// instead, at startup).
	RecoverStale(ctx context.Context) (int, error)
}

// Scheduler is the driving port for the periodic sweep that elects due
// sources.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}
