package domain

import "time"

// QueueStatus is shared by the Event Queue and the Embedding Queue.
type QueueStatus string

// Recognised queue item statuses.
const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueDeadLetter QueueStatus = "dead_letter"
)

// DefaultMaxRetries is the max_retries written on every new Event Queue
// item and the retry cap the Embedding Queue applies to its items.
const DefaultMaxRetries = 3

// EventType is the closed set of document lifecycle steps an EventQueueItem
// may describe.
type EventType string

// Recognised event types.
const (
	EventDocumentCreated EventType = "document_created"
	EventDocumentUpdated EventType = "document_updated"
	EventDocumentDeleted EventType = "document_deleted"
)

// EventPayload is the stable wire format carried by Event Queue items.
type EventPayload struct {
	Type        EventType        `json:"type"`
	SyncRunID   string           `json:"sync_run_id"`
	SourceID    string           `json:"source_id"`
	DocumentID  string           `json:"document_id"`
	ContentID   *string          `json:"content_id"`
	Metadata    EventMetadata    `json:"metadata"`
	Permissions EventPermissions `json:"permissions"`
}

// EventMetadata carries document attributes that survive into the indexer.
type EventMetadata struct {
	Title     string         `json:"title,omitempty"`
	Author    string         `json:"author,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	MIMEType  string         `json:"mime_type,omitempty"`
	Size      int64          `json:"size,omitempty"`
	URL       string         `json:"url,omitempty"`
	Path      string         `json:"path,omitempty"`
	ParentID  *string        `json:"parent_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// EventPermissions records who can see the document, passed through
// opaquely to the indexer/search layer.
type EventPermissions struct {
	Public bool     `json:"public"`
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// EventQueueItem is a durable row on the Event Queue.
type EventQueueItem struct {
	ID           string
	SourceID     string
	EventType    EventType
	Payload      EventPayload
	Status       QueueStatus
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
}

// EmbeddingQueueItem is a durable row on the Embedding Queue.
type EmbeddingQueueItem struct {
	ID                  string
	DocumentID          string
	Status              QueueStatus
	RetryCount          int
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	ErrorMessage        string
	CreatedAt           time.Time
}

// QueueStats is the last-24h status breakdown returned by Stats().
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	DeadLetter int64
}

// EmbeddingProvider gates Embedding Queue enqueue: at most one row may be
// current at a time.
type EmbeddingProvider struct {
	ID        string
	Name      string
	Model     string
	Dimension int
	IsCurrent bool
	CreatedAt time.Time
}

// BlobObject is an immutable, content-addressed byte blob.
type BlobObject struct {
	ID             string
	ContentType    string
	Size           int64
	SHA256         string
	StorageBackend string
	CreatedAt      time.Time
}

// BlobMetadata is the subset of BlobObject returned by Metadata(id), without
// the bytes.
type BlobMetadata struct {
	ContentType string
	Size        int64
	SHA256      string
}
