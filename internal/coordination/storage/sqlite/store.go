// Package sqlite is the relational storage backend for the coordination
// plane: Sources, SyncRuns, the Event Queue, the Embedding Queue, and the
// Blob Store's relational mode all live in one embedded-migration SQLite
// database, exposed through one wrapper type per store interface.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/storage/sqlite/migrations"
)

// Store is a unified SQLite-based storage that provides access to every
// coordination-plane store interface through wrapper types.
type Store struct {
	db   *sql.DB
	path string

	// notify fan-out channels, one per logical stream. Buffered size 1:
	// a pending, undelivered wakeup is sufficient since every consumer
	// loop re-polls after waking, it never depends on receiving one
	// notification per write.
	eventsNotify  chan struct{}
	syncRunNotify chan struct{}

	// Queue wrappers are built once so their claim-serializing mutexes are
	// shared by every caller that asks for the interface.
	events     *eventQueue
	embeddings *embeddingQueue
}

// NewStore creates or opens a coordination-plane SQLite store at
// dataDir/coordinator.db. If dataDir is empty, it defaults to
// ~/.sercha/data/coordinator.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sercha", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "coordinator.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:            db,
		path:          dbPath,
		eventsNotify:  make(chan struct{}, 1),
		syncRunNotify: make(chan struct{}, 1),
	}
	s.events = &eventQueue{store: s}
	s.embeddings = &embeddingQueue{store: s}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// BlobStore returns a BlobStore interface backed by this store's content_blobs table.
func (s *Store) BlobStore() ports.BlobStore {
	return &blobStore{store: s}
}

// EventQueue returns an EventQueue interface backed by this store.
func (s *Store) EventQueue() ports.EventQueue {
	return s.events
}

// EmbeddingQueue returns an EmbeddingQueue interface backed by this store.
func (s *Store) EmbeddingQueue() ports.EmbeddingQueue {
	return s.embeddings
}

// EmbeddingProviderStore returns an EmbeddingProviderStore interface backed by this store.
func (s *Store) EmbeddingProviderStore() ports.EmbeddingProviderStore {
	return &embeddingProviderStore{store: s}
}

// SyncRunLedger returns a SyncRunLedger interface backed by this store.
func (s *Store) SyncRunLedger() ports.SyncRunLedger {
	return &syncRunLedger{store: s}
}

// SourceStore returns a SourceStore interface backed by this store.
func (s *Store) SourceStore() ports.SourceStore {
	return &sourceStore{store: s}
}

// CredentialsStore returns a CredentialsStore interface backed by this store.
func (s *Store) CredentialsStore() ports.CredentialsStore {
	return &credentialsStore{store: s}
}

// DocumentStore returns the indexer-stub DocumentStore backed by this store.
func (s *Store) DocumentStore() ports.DocumentStore {
	return &documentStore{store: s}
}

// notify sends a non-blocking wakeup on ch; a channel already holding a
// pending wakeup is left untouched rather than blocking the writer.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// migrate applies embedded *.up.sql files newer than the recorded schema
// version, in filename order.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fsys.ReadDir(".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fsys.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}
