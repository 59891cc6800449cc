package fsworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/connectorsdk"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// fakeCoordinator collects everything a sync job reports.
type fakeCoordinator struct {
	mu         sync.Mutex
	events     []domain.EventPayload
	blobs      map[string][]byte
	nextBlobID int
	scanned    int64
	state      string
	completed  bool
	failed     string
	processed  int64
	updated    int64
}

var _ connectorsdk.Coordinator = (*fakeCoordinator)(nil)

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{blobs: map[string][]byte{}}
}

func (f *fakeCoordinator) EmitEvent(_ context.Context, _ string, event domain.EventPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return fmt.Sprintf("evt-%d", len(f.events)), nil
}

func (f *fakeCoordinator) StoreContent(_ context.Context, content []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextBlobID++
	id := fmt.Sprintf("blob-%d", f.nextBlobID)
	f.blobs[id] = append([]byte(nil), content...)
	return id, nil
}

func (f *fakeCoordinator) Heartbeat(context.Context, string) error { return nil }

func (f *fakeCoordinator) IncrementScanned(_ context.Context, _ string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned += n
	return nil
}

func (f *fakeCoordinator) SaveState(_ context.Context, _ string, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	return nil
}

func (f *fakeCoordinator) Complete(_ context.Context, _ string, processed, updated int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.processed = processed
	f.updated = updated
	return nil
}

func (f *fakeCoordinator) Fail(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = message
	return nil
}

func (f *fakeCoordinator) eventsOfType(eventType domain.EventType) []domain.EventPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EventPayload
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newSyncRequest(root, state string, mode domain.SyncType) domain.SyncRequest {
	return domain.SyncRequest{
		SyncRunID:      "run-1",
		SourceID:       "src-1",
		SourceType:     domain.SourceTypeFiles,
		Config:         map[string]any{"roots": []any{root}},
		ConnectorState: state,
		SyncMode:       mode,
		CoordinatorURL: "http://localhost:8090",
	}
}

func runJob(t *testing.T, req domain.SyncRequest, sdk connectorsdk.Coordinator) *syncJob {
	t.Helper()
	cfg, err := ParseConfig(req.Config)
	require.NoError(t, err)
	job := newSyncJob(req, cfg, sdk)
	job.run(context.Background())
	return job
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFullSyncEmitsCreatedEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.md", "# beta")
	writeFile(t, dir, "nested/c.txt", "gamma")

	sdk := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeFull), sdk)

	created := sdk.eventsOfType(domain.EventDocumentCreated)
	require.Len(t, created, 3)
	assert.True(t, sdk.completed)
	assert.Equal(t, int64(3), sdk.processed)
	assert.Zero(t, sdk.updated)

	// Every created event references a stored blob.
	for _, e := range created {
		require.NotNil(t, e.ContentID)
		assert.Contains(t, sdk.blobs, *e.ContentID)
		assert.NotEmpty(t, e.Metadata.Title)
	}

	// The checkpoint records all three files.
	state := parseState(sdk.state)
	require.Contains(t, state.Roots, dir)
	assert.Len(t, state.Roots[dir].Files, 3)
}

func TestIncrementalSyncEmitsOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")
	writeFile(t, dir, "c.txt", "gamma")

	first := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeIncremental), first)
	require.Len(t, first.eventsOfType(domain.EventDocumentCreated), 3)

	// Touch exactly one file; mtime granularity needs a distinct stamp.
	changed := writeFile(t, dir, "b.txt", "beta v2")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(changed, future, future))

	second := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, first.state, domain.SyncTypeIncremental), second)

	updated := second.eventsOfType(domain.EventDocumentUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, changed, updated[0].Metadata.Path)
	assert.Empty(t, second.eventsOfType(domain.EventDocumentCreated))
	assert.Empty(t, second.eventsOfType(domain.EventDocumentDeleted))
}

func TestIncrementalSyncSkipsTouchedButUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "alpha")

	first := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeIncremental), first)

	// Same bytes, new mtime: the hash layer suppresses the re-emit.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	second := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, first.state, domain.SyncTypeIncremental), second)
	assert.Empty(t, second.events)
	assert.True(t, second.completed)
}

func TestDeletionDetectionBySetDifference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "kept")
	doomed := writeFile(t, dir, "doomed.txt", "gone soon")

	first := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeIncremental), first)

	require.NoError(t, os.Remove(doomed))

	second := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, first.state, domain.SyncTypeIncremental), second)

	deleted := second.eventsOfType(domain.EventDocumentDeleted)
	require.Len(t, deleted, 1)
	assert.Nil(t, deleted[0].ContentID)
	assert.Equal(t, doomed, deleted[0].Metadata.Path)

	// The deleted file's ID matches the one its create event carried, so
	// the indexer removes the right row.
	created := first.eventsOfType(domain.EventDocumentCreated)
	var doomedID string
	for _, e := range created {
		if e.Metadata.Path == doomed {
			doomedID = e.DocumentID
		}
	}
	assert.Equal(t, doomedID, deleted[0].DocumentID)

	// And the checkpoint no longer knows the file.
	state := parseState(second.state)
	assert.Len(t, state.Roots[dir].Files, 1)
}

func TestHiddenFilesAndFilteredExtensionsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "# doc")
	writeFile(t, dir, "binary.bin", "\x00\x01")
	writeFile(t, dir, ".hidden", "secret")
	writeFile(t, dir, ".git/config", "[core]")

	req := newSyncRequest(dir, "", domain.SyncTypeFull)
	req.Config["extensions"] = []any{"md"}

	sdk := newFakeCoordinator()
	runJob(t, req, sdk)

	created := sdk.eventsOfType(domain.EventDocumentCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "doc.md", created[0].Metadata.Title)
}

func TestOversizedFilesAreScannedButNotEmitted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.txt", "0123456789")
	writeFile(t, dir, "small.txt", "ok")

	req := newSyncRequest(dir, "", domain.SyncTypeFull)
	req.Config["max_file_size"] = float64(5)

	sdk := newFakeCoordinator()
	runJob(t, req, sdk)

	require.Len(t, sdk.eventsOfType(domain.EventDocumentCreated), 1)
	// The final flush reports both files as scanned.
	assert.Equal(t, int64(2), sdk.scanned)
}

func TestMissingRootFailsRun(t *testing.T) {
	sdk := newFakeCoordinator()
	req := newSyncRequest(filepath.Join(t.TempDir(), "nope"), "", domain.SyncTypeFull)
	runJob(t, req, sdk)

	assert.False(t, sdk.completed)
	assert.Contains(t, sdk.failed, "stat root")
}

func TestDeterministicDocumentIDsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")

	first := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeFull), first)
	second := newFakeCoordinator()
	runJob(t, newSyncRequest(dir, "", domain.SyncTypeFull), second)

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, first.events[0].DocumentID, second.events[0].DocumentID)
}
