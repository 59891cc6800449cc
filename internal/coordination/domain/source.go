// Package domain holds the coordination plane's core types: the shapes that
// flow between the Sync Manager, the queues, the ledger, and the SDK surface.
package domain

import "time"

// SourceType is the closed set of connector categories the coordinator knows
// how to route to.
type SourceType string

// Recognised source types.
const (
	SourceTypeDrive   SourceType = "drive"
	SourceTypeMail    SourceType = "mail"
	SourceTypeChat    SourceType = "chat"
	SourceTypeWiki    SourceType = "wiki"
	SourceTypeTracker SourceType = "tracker"
	SourceTypeWeb     SourceType = "web"
	SourceTypeFiles   SourceType = "files"
)

// SyncStatusTag reflects the Source's last-known sync health, separate from
// any individual SyncRun's status.
type SyncStatusTag string

// Sync status tags surfaced on the Source row.
const (
	SourceSyncOK      SyncStatusTag = "ok"
	SourceSyncError   SyncStatusTag = "error"
	SourceSyncPending SyncStatusTag = "pending"
)

// Source is the semantic identity of a remote account or site being synced.
type Source struct {
	ID         string
	Name       string
	Type       SourceType
	Config     map[string]any
	Active     bool
	IsDeleted  bool
	LastSyncAt time.Time
	SyncStatus SyncStatusTag

	// NextSyncAt is nil when the source has never been scheduled.
	NextSyncAt *time.Time

	// SchedulingInterval is how often the Scheduler re-triggers this Source.
	SchedulingInterval time.Duration

	// ConnectorState is the opaque, connector-owned cursor document.
	// The coordinator never interprets it, only persists and hands it back.
	ConnectorState string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceCredentials is one row per Source holding opaque encrypted
// credential material plus enough metadata to decide when re-validation is
// due.
type ServiceCredentials struct {
	ID              string
	SourceID        string
	Provider        string
	AuthType        AuthType
	EncryptedBlob   []byte
	Expiry          *time.Time
	LastValidatedAt time.Time
}

// AuthType is the closed set of credential shapes a connector may require.
type AuthType string

// Recognised auth types.
const (
	AuthTypeOAuth          AuthType = "oauth"
	AuthTypeAPIKey         AuthType = "api-key"
	AuthTypeBotToken       AuthType = "bot-token"
	AuthTypeJWT            AuthType = "jwt"
	AuthTypeServiceAccount AuthType = "service-account"
	AuthTypeNone           AuthType = "none"
)
