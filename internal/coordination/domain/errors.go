package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordination plane, wrapped with %w at each
// layer and matched with errors.Is.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSyncAlreadyRunning means admission rejected a trigger because the
	// Source already has a running SyncRun.
	ErrSyncAlreadyRunning = errors.New("sync already running")

	// ErrConcurrencyLimitReached means admission rejected a trigger because
	// a global or per-type in-flight cap was hit.
	ErrConcurrencyLimitReached = errors.New("concurrency limit reached")

	// ErrSourceInactive means the Source is not active or has been
	// soft-deleted and cannot be synced.
	ErrSourceInactive = errors.New("source inactive")

	// ErrInvalidTransition means a SyncRun state transition was attempted
	// that the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid sync run transition")

	// ErrNotSupported is returned by a connector worker for an operation it
	// declares no capability for (e.g. cancel).
	ErrNotSupported = errors.New("not supported")

	// ErrNoConnectorURL means the Source's type has no configured connector
	// worker endpoint.
	ErrNoConnectorURL = errors.New("no connector url configured for source type")

	// ErrConfig indicates a storage backend is missing required setup.
	ErrConfig = errors.New("backend configuration error")

	// ErrBackend indicates an I/O failure in a storage backend.
	ErrBackend = errors.New("backend error")
)

// ConcurrencyError carries which admission cap was hit, for operator-facing
// diagnostics beyond the sentinel's plain text.
type ConcurrencyError struct {
	Cap   string // "global" or "per_type"
	Limit int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s concurrency limit reached (limit=%d)", e.Cap, e.Limit)
}

// Unwrap lets callers match ErrConcurrencyLimitReached via errors.Is.
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyLimitReached
}

// RateLimitError carries a server-hinted retry delay, mirroring
// internal/connectors/github/errors.go's RateLimitError.
type RateLimitError struct {
	RetryAfterSeconds int
	Message           string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Message, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("rate limited (retry after %ds)", e.RetryAfterSeconds)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsConcurrencyLimit reports whether err is (or wraps) a ConcurrencyError.
func IsConcurrencyLimit(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}
