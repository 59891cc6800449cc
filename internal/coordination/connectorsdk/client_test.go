package connectorsdk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

// coordinatorStub records SDK calls and plays back canned responses.
type coordinatorStub struct {
	t      *testing.T
	calls  []string
	bodies map[string][]byte
}

func newCoordinatorStub(t *testing.T) (*httptest.Server, *coordinatorStub) {
	t.Helper()
	stub := &coordinatorStub{t: t, bodies: map[string][]byte{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sdk/events", func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		w.Write([]byte(`{"event_id":"evt-1"}`)) //nolint:errcheck
	})
	mux.HandleFunc("POST /sdk/content", func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		w.Write([]byte(`{"content_id":"blob-1"}`)) //nolint:errcheck
	})
	mux.HandleFunc("POST /sdk/sync/{id}/{op}", func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		if r.PathValue("op") == "fail" && r.PathValue("id") == "run-terminal" {
			http.Error(w, `{"error":"invalid sync run transition"}`, http.StatusConflict)
			return
		}
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, stub
}

func (s *coordinatorStub) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.calls = append(s.calls, r.URL.Path)
	s.bodies[r.URL.Path] = body
}

func TestClientCallsEverySurface(t *testing.T) {
	server, stub := newCoordinatorStub(t)
	client := New(server.URL + "/")
	ctx := context.Background()

	eventID, err := client.EmitEvent(ctx, "src-1", domain.EventPayload{
		Type: domain.EventDocumentCreated, SyncRunID: "run-1",
		SourceID: "src-1", DocumentID: "doc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", eventID)

	contentID, err := client.StoreContent(ctx, []byte("body"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", contentID)

	require.NoError(t, client.Heartbeat(ctx, "run-1"))
	require.NoError(t, client.IncrementScanned(ctx, "run-1", 50))
	require.NoError(t, client.SaveState(ctx, "run-1", `{"roots":{}}`))
	require.NoError(t, client.Complete(ctx, "run-1", 10, 2))
	require.NoError(t, client.Fail(ctx, "run-2", "broke"))

	assert.Equal(t, []string{
		"/sdk/events",
		"/sdk/content",
		"/sdk/sync/run-1/heartbeat",
		"/sdk/sync/run-1/scanned",
		"/sdk/sync/run-1/state",
		"/sdk/sync/run-1/complete",
		"/sdk/sync/run-2/fail",
	}, stub.calls)

	assert.JSONEq(t, `{"n":50}`, string(stub.bodies["/sdk/sync/run-1/scanned"]))
	assert.JSONEq(t, `{"documents_processed":10,"documents_updated":2}`,
		string(stub.bodies["/sdk/sync/run-1/complete"]))
	assert.Equal(t, "body", string(stub.bodies["/sdk/content"]))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)

	client := New(server.URL)
	require.NoError(t, client.Heartbeat(context.Background(), "run-1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, `{"error":"no such run"}`, http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := New(server.URL)
	err := client.Heartbeat(context.Background(), "run-ghost")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestClientSurfacesSDKErrors(t *testing.T) {
	server, _ := newCoordinatorStub(t)
	client := New(server.URL)

	err := client.Fail(context.Background(), "run-terminal", "late report")
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, http.StatusConflict, sdkErr.StatusCode)
}
