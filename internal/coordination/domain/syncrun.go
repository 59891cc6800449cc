package domain

import "time"

// SyncType distinguishes a from-scratch crawl from a checkpointed one.
type SyncType string

// Recognised sync types.
const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// SyncRunStatus is a SyncRun's position in its lifecycle.
type SyncRunStatus string

// Recognised SyncRun statuses. Valid transitions:
// pending->running->{completed,failed,cancelled}. Any other transition is
// rejected by the ledger.
const (
	SyncRunPending   SyncRunStatus = "pending"
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
	SyncRunCancelled SyncRunStatus = "cancelled"
)

// TriggerType records what caused a SyncRun to be created, for operator
// visibility only; it has no effect on admission or dispatch.
type TriggerType string

// Recognised trigger types.
const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerWebhook   TriggerType = "webhook"
)

// SyncRun is a single attempt to sync a Source.
type SyncRun struct {
	ID          string
	SourceID    string
	SourceType  SourceType
	SyncType    SyncType
	Trigger     TriggerType
	Status      SyncRunStatus
	StartedAt   *time.Time
	CompletedAt *time.Time

	DocumentsScanned   int64
	DocumentsProcessed int64
	DocumentsUpdated   int64

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the run has reached a state with no further
// transitions.
func (r SyncRun) IsTerminal() bool {
	switch r.Status {
	case SyncRunCompleted, SyncRunFailed, SyncRunCancelled:
		return true
	default:
		return false
	}
}

// SyncRequest is what the Sync Manager POSTs to a connector worker's /sync.
type SyncRequest struct {
	SyncRunID      string         `json:"sync_run_id"`
	SourceID       string         `json:"source_id"`
	SourceType     SourceType     `json:"source_type"`
	SourceName     string         `json:"source_name"`
	Config         map[string]any `json:"config"`
	Credentials    map[string]any `json:"credentials,omitempty"`
	ConnectorState string         `json:"connector_state,omitempty"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	SyncMode       SyncType       `json:"sync_mode"`
	CoordinatorURL string         `json:"coordinator_url"`
}

// CancelRequest is what the Sync Manager POSTs to a connector worker's
// /cancel.
type CancelRequest struct {
	SyncRunID string `json:"sync_run_id"`
}

// ActionRequest is what the coordinator forwards to a connector's /action,
// and what an operator POSTs to the coordinator's /action.
type ActionRequest struct {
	SourceID string         `json:"source_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
}

// Manifest is a connector worker's self-description, returned by /manifest.
type Manifest struct {
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	SyncModes []SyncType   `json:"sync_modes"`
	Actions   []ActionSpec `json:"actions"`
}

// ActionSpec describes one action a connector declares support for.
type ActionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
