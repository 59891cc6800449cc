package domain

import "time"

// Document is the minimal indexer-owned row the queue consumer upserts
// into. The real indexer's document model (content extraction, chunking,
// ranking fields) is out of scope; this stub exists so the consumer side of
// the Event Queue contract is exercised end to end.
type Document struct {
	ID        string
	SourceID  string
	Title     string
	ContentID *string
	UpdatedAt time.Time
}
