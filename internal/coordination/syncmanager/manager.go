// Package syncmanager implements admission, dispatch, cancellation, and
// staleness recovery for sync runs. A trigger is admitted only when the
// source has no running run and the global and per-type in-flight caps have
// room; dispatch posts to the connector worker and returns as soon as the
// worker acknowledges, with all further progress arriving through the SDK
// surface.
package syncmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// Config holds the admission caps and connector routing table.
type Config struct {
	// MaxConcurrentSyncs is the global in-flight cap.
	MaxConcurrentSyncs int

	// MaxConcurrentSyncsPerType is the per-SourceType in-flight cap.
	MaxConcurrentSyncsPerType int

	// StaleSyncTimeout is how long a running SyncRun may go without a
	// heartbeat before the staleness sweep fails it.
	StaleSyncTimeout time.Duration

	// ConnectorURLs maps a SourceType to its connector worker's base URL.
	ConnectorURLs map[domain.SourceType]string

	// CoordinatorURL is advertised to connectors so they know where to call
	// back through the SDK Surface.
	CoordinatorURL string
}

// Manager implements ports.SyncManager.
type Manager struct {
	cfg Config

	runs      ports.SyncRunLedger
	sources   ports.SourceStore
	creds     ports.CredentialsStore
	connector ports.ConnectorClient

	// admissionMu serializes the check-then-create admission sequence; the
	// ledger's unique partial index on (source_id) WHERE status='running'
	// is the second line of defense.
	admissionMu sync.Mutex

	// cancelFns tracks a context.CancelFunc per in-flight dispatch POST so
	// Cancel can cut a still-pending dispatch short (the connector's own
	// work is cancelled via its /cancel endpoint, not this local context).
	cancelMu  sync.Mutex
	cancelFns map[string]context.CancelFunc
}

var _ ports.SyncManager = (*Manager)(nil)

// New builds a Manager.
func New(cfg Config, runs ports.SyncRunLedger, sources ports.SourceStore, creds ports.CredentialsStore, connector ports.ConnectorClient) *Manager {
	return &Manager{
		cfg:       cfg,
		runs:      runs,
		sources:   sources,
		creds:     creds,
		connector: connector,
		cancelFns: make(map[string]context.CancelFunc),
	}
}

// Trigger admits and dispatches a sync for sourceID.
func (m *Manager) Trigger(ctx context.Context, sourceID string, mode domain.SyncType, trigger domain.TriggerType) (domain.SyncRun, error) {
	source, err := m.sources.Get(ctx, sourceID)
	if err != nil {
		return domain.SyncRun{}, err
	}
	if !source.Active || source.IsDeleted {
		return domain.SyncRun{}, domain.ErrSourceInactive
	}

	connectorURL, ok := m.cfg.ConnectorURLs[source.Type]
	if !ok || connectorURL == "" {
		return domain.SyncRun{}, domain.ErrNoConnectorURL
	}

	run, err := m.admitAndCreate(ctx, *source, mode, trigger)
	if err != nil {
		return domain.SyncRun{}, err
	}

	if err := m.dispatch(ctx, *source, connectorURL, run); err != nil {
		logger.Warn("syncmanager: dispatch failed for run %s: %v", run.ID, err)
		if failErr := m.runs.Fail(ctx, run.ID, fmt.Sprintf("dispatch failed: %v", err)); failErr != nil {
			logger.Warn("syncmanager: failed to mark run %s failed after dispatch error: %v", run.ID, failErr)
		}
		return domain.SyncRun{}, fmt.Errorf("dispatching sync to connector: %w", err)
	}

	return run, nil
}

// admitAndCreate runs the ordered admission checks (source running, global
// cap, per-type cap) and, on success, creates the ledger row in the same
// critical section.
func (m *Manager) admitAndCreate(ctx context.Context, source domain.Source, mode domain.SyncType, trigger domain.TriggerType) (domain.SyncRun, error) {
	m.admissionMu.Lock()
	defer m.admissionMu.Unlock()

	running, err := m.runs.GetRunning(ctx, source.ID)
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("checking running sync run: %w", err)
	}
	if running != nil {
		return domain.SyncRun{}, domain.ErrSyncAlreadyRunning
	}

	if m.cfg.MaxConcurrentSyncs > 0 {
		total, perType, err := m.runs.CountRunning(ctx, source.Type)
		if err != nil {
			return domain.SyncRun{}, fmt.Errorf("counting running sync runs: %w", err)
		}
		if total >= m.cfg.MaxConcurrentSyncs {
			return domain.SyncRun{}, &domain.ConcurrencyError{Cap: "global", Limit: m.cfg.MaxConcurrentSyncs}
		}
		if m.cfg.MaxConcurrentSyncsPerType > 0 && perType >= m.cfg.MaxConcurrentSyncsPerType {
			return domain.SyncRun{}, &domain.ConcurrencyError{Cap: "per_type", Limit: m.cfg.MaxConcurrentSyncsPerType}
		}
	}

	run, err := m.runs.Create(ctx, domain.SyncRun{
		SourceID:   source.ID,
		SourceType: source.Type,
		SyncType:   mode,
		Trigger:    trigger,
	})
	if err != nil {
		return domain.SyncRun{}, err
	}
	return run, nil
}

// dispatch builds the SyncRequest and posts it to the connector. The
// connector worker is expected to acknowledge quickly and run the sync in
// the background, reporting progress back through the SDK Surface.
func (m *Manager) dispatch(ctx context.Context, source domain.Source, connectorURL string, run domain.SyncRun) error {
	req := domain.SyncRequest{
		SyncRunID:      run.ID,
		SourceID:       source.ID,
		SourceType:     source.Type,
		SourceName:     source.Name,
		Config:         source.Config,
		ConnectorState: source.ConnectorState,
		SyncMode:       run.SyncType,
		CoordinatorURL: m.cfg.CoordinatorURL,
	}
	if !source.LastSyncAt.IsZero() {
		t := source.LastSyncAt
		req.LastSyncAt = &t
	}

	if creds, err := m.creds.GetBySourceID(ctx, source.ID); err == nil && creds != nil {
		req.Credentials = credentialPayload(creds)
	}

	// The cancel func only lives as long as the dispatch POST: the worker
	// acks quickly and runs the sync on its own, so after Sync returns
	// there is no local work left to abort and the entry is dropped. An
	// operator cancel landing mid-POST still cuts the call short here.
	dispatchCtx, cancel := context.WithCancel(context.Background())
	m.cancelMu.Lock()
	m.cancelFns[run.ID] = cancel
	m.cancelMu.Unlock()
	defer func() {
		cancel()
		m.cancelMu.Lock()
		delete(m.cancelFns, run.ID)
		m.cancelMu.Unlock()
	}()

	return m.connector.Sync(dispatchCtx, connectorURL, req)
}

// credentialPayload is the decrypted credential document a SyncRequest
// carries to the connector: provider, auth type, and the secret material
// itself. Sealing is owned by the credential layer outside this plane; the
// blob arrives here already in its wire form, a JSON document for
// providers that issue structured material, a raw token otherwise.
func credentialPayload(creds *domain.ServiceCredentials) map[string]any {
	payload := map[string]any{
		"provider":  creds.Provider,
		"auth_type": string(creds.AuthType),
	}
	if len(creds.EncryptedBlob) == 0 {
		return payload
	}
	var secret map[string]any
	if err := json.Unmarshal(creds.EncryptedBlob, &secret); err == nil {
		payload["secret"] = secret
	} else {
		payload["secret"] = string(creds.EncryptedBlob)
	}
	return payload
}

// Cancel asks the owning connector to stop syncRunID and marks the run
// cancelled in the ledger. Cancellation is best-effort against a worker
// that cannot stop mid-flight: it runs to completion, its late progress
// reports are discarded and its late complete or fail is rejected by the
// terminal row. A connector that answers not_supported
// declares no cancel capability at all; the run is left running and
// domain.ErrNotSupported goes back to the caller.
func (m *Manager) Cancel(ctx context.Context, syncRunID string) error {
	run, err := m.runs.Get(ctx, syncRunID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return domain.ErrInvalidTransition
	}

	source, err := m.sources.Get(ctx, run.SourceID)
	if err != nil {
		return err
	}
	connectorURL, ok := m.cfg.ConnectorURLs[source.Type]
	if ok && connectorURL != "" {
		if err := m.connector.Cancel(ctx, connectorURL, domain.CancelRequest{SyncRunID: syncRunID}); err != nil {
			if errors.Is(err, domain.ErrNotSupported) {
				return fmt.Errorf("connector for %s cannot cancel runs: %w", source.Type, domain.ErrNotSupported)
			}
			logger.Warn("syncmanager: connector cancel failed for run %s: %v", syncRunID, err)
		}
	}

	m.cancelMu.Lock()
	if cancel, ok := m.cancelFns[syncRunID]; ok {
		cancel()
		delete(m.cancelFns, syncRunID)
	}
	m.cancelMu.Unlock()

	return m.runs.Cancel(ctx, syncRunID)
}

// RecoverStale transitions timed-out running SyncRuns to failed.
func (m *Manager) RecoverStale(ctx context.Context) (int, error) {
	return m.runs.RecoverStale(ctx, int64(m.cfg.StaleSyncTimeout.Seconds()))
}
