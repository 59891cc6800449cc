package sdksurface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/storage/sqlite"
)

type fixture struct {
	server *httptest.Server
	store  *sqlite.Store
	runID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	ctx := context.Background()
	require.NoError(t, store.SourceStore().Save(ctx, domain.Source{
		ID: "src-1", Name: "Source", Type: domain.SourceTypeFiles,
		Config: map[string]any{}, Active: true, SchedulingInterval: time.Hour,
	}))
	run, err := store.SyncRunLedger().Create(ctx, domain.SyncRun{
		SourceID: "src-1", SourceType: domain.SourceTypeFiles,
		SyncType: domain.SyncTypeFull, Trigger: domain.TriggerManual,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(store.EventQueue(), store.BlobStore(), store.SyncRunLedger()).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{server: server, store: store, runID: run.ID}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEmitEventEnqueues(t *testing.T) {
	f := newFixture(t)

	contentID := "blob-1"
	resp := f.post(t, "/sdk/events", map[string]any{
		"source_id": "src-1",
		"event": domain.EventPayload{
			Type:       domain.EventDocumentCreated,
			SyncRunID:  f.runID,
			SourceID:   "src-1",
			DocumentID: "doc-1",
			ContentID:  &contentID,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		EventID string `json:"event_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.EventID)

	items, err := f.store.EventQueue().ClaimBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "doc-1", items[0].Payload.DocumentID)
}

func TestEmitEventRejectsMalformed(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sdk/events", map[string]any{"source_id": "src-1", "event": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/sdk/events", map[string]any{
		"source_id": "src-1",
		"event":     map[string]any{"type": "document_exploded", "document_id": "doc-1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreContent(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/sdk/content", "text/markdown", bytes.NewReader([]byte("# hi")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ContentID string `json:"content_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ContentID)

	content, err := f.store.BlobStore().Get(context.Background(), body.ContentID)
	require.NoError(t, err)
	assert.Equal(t, []byte("# hi"), content)

	md, err := f.store.BlobStore().Metadata(context.Background(), body.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", md.ContentType)
}

func TestScannedHeartbeatStateAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := f.store.SyncRunLedger()

	resp := f.post(t, "/sdk/sync/"+f.runID+"/scanned", map[string]int64{"n": 25})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/sdk/sync/"+f.runID+"/heartbeat", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/sdk/sync/"+f.runID+"/state", map[string]string{"connector_state": `{"roots":{}}`})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	run, err := ledger.Get(ctx, f.runID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), run.DocumentsScanned)

	source, err := f.store.SourceStore().Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, `{"roots":{}}`, source.ConnectorState)

	resp = f.post(t, "/sdk/sync/"+f.runID+"/complete", map[string]int64{
		"documents_processed": 20, "documents_updated": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	run, err = ledger.Get(ctx, f.runID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunCompleted, run.Status)
	assert.Equal(t, int64(20), run.DocumentsProcessed)

	// A second complete is a conflict, not a silent overwrite.
	resp = f.post(t, "/sdk/sync/"+f.runID+"/complete", map[string]int64{"documents_processed": 99})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Heartbeats, progress, and checkpoints stay idempotent after the run
	// ends: late reports from a still-working connector get a clean 200.
	resp = f.post(t, "/sdk/sync/"+f.runID+"/heartbeat", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.post(t, "/sdk/sync/"+f.runID+"/scanned", map[string]int64{"n": 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.post(t, "/sdk/sync/"+f.runID+"/state", map[string]string{"connector_state": `{"roots":{"late":{}}}`})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	run, err = ledger.Get(ctx, f.runID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), run.DocumentsScanned)
}

func TestFailTransitionsRun(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sdk/sync/"+f.runID+"/fail", map[string]string{"error": "token expired"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	run, err := f.store.SyncRunLedger().Get(context.Background(), f.runID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunFailed, run.Status)
	assert.Equal(t, "token expired", run.ErrorMessage)
}

func TestUnknownRunIs404(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sdk/sync/nope/heartbeat", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
