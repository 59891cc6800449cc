// Package fsworker is the filesystem connector worker: a standalone HTTP
// process that accepts SyncRequests from the coordinator, walks the
// configured directory trees, and reports documents back through the
// coordinator's SDK surface. It is the reference instantiation of the
// connector shape every worker in the fabric follows: accept quickly, sync
// in the background, checkpoint cursors per partition, detect deletions by
// set difference, dedup by deterministic document ID and content hash.
package fsworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/connectorsdk"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// Version is reported in the worker's manifest.
const Version = "0.3.0"

// CoordinatorFactory builds the SDK client for a sync's callback URL.
// Swappable so tests can hand the worker a fake coordinator.
type CoordinatorFactory func(coordinatorURL string) connectorsdk.Coordinator

// Server is the worker's HTTP surface plus its in-flight sync registry.
type Server struct {
	newCoordinator CoordinatorFactory

	mu       sync.Mutex
	active   map[string]context.CancelFunc // sync_run_id -> cancel
	watchers map[string]*watcher           // source_id -> watcher
	wg       sync.WaitGroup
}

// NewServer builds a Server. A nil factory uses the real HTTP SDK client.
func NewServer(factory CoordinatorFactory) *Server {
	if factory == nil {
		factory = func(url string) connectorsdk.Coordinator {
			return connectorsdk.New(url)
		}
	}
	return &Server{
		newCoordinator: factory,
		active:         make(map[string]context.CancelFunc),
		watchers:       make(map[string]*watcher),
	}
}

// Register adds the worker routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /cancel", s.handleCancel)
	mux.HandleFunc("POST /action", s.handleAction)
}

// Close cancels every in-flight sync and watcher and waits for them.
func (s *Server) Close() {
	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	watchers := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[string]*watcher)
	s.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.Manifest{
		Name:      "filesystem",
		Version:   Version,
		SyncModes: []domain.SyncType{domain.SyncTypeFull, domain.SyncTypeIncremental},
		Actions: []domain.ActionSpec{
			{Name: "validate_path", Description: "Check that a path exists and is a readable directory"},
		},
	})
}

// handleSync validates the request, acknowledges, and runs the sync in the
// background. The coordinator only waits for this acknowledgement.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding sync request: %w", err))
		return
	}
	if req.SyncRunID == "" || req.SourceID == "" || req.CoordinatorURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("sync_run_id, source_id and coordinator_url are required"))
		return
	}

	cfg, err := ParseConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if _, exists := s.active[req.SyncRunID]; exists {
		s.mu.Unlock()
		cancel()
		writeError(w, http.StatusConflict, fmt.Errorf("sync run %s already accepted", req.SyncRunID))
		return
	}
	s.active[req.SyncRunID] = cancel
	s.mu.Unlock()

	job := newSyncJob(req, cfg, s.newCoordinator(req.CoordinatorURL))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, req.SyncRunID)
			s.mu.Unlock()
			cancel()
		}()

		logger.Info("fsworker: starting sync run %s for source %s (%s)", req.SyncRunID, req.SourceID, req.SyncMode)
		job.run(ctx)

		if cfg.Watch && ctx.Err() == nil {
			s.ensureWatcher(req.SourceID, req.CoordinatorURL, cfg.Roots)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "sync_run_id": req.SyncRunID})
}

// ensureWatcher (re)starts the change watcher for a source after a sync, so
// the watched roots always reflect the latest config.
func (s *Server) ensureWatcher(sourceID, coordinatorURL string, roots []string) {
	s.mu.Lock()
	old := s.watchers[sourceID]
	delete(s.watchers, sourceID)
	s.mu.Unlock()
	if old != nil {
		old.stop()
	}

	w, err := newWatcher(sourceID, coordinatorURL, roots)
	if err != nil {
		logger.Warn("fsworker: starting watcher for source %s: %v", sourceID, err)
		return
	}
	s.mu.Lock()
	s.watchers[sourceID] = w
	s.mu.Unlock()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding cancel request: %w", err))
		return
	}

	s.mu.Lock()
	cancel, ok := s.active[req.SyncRunID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding action request: %w", err))
		return
	}

	switch req.Action {
	case "validate_path":
		path, _ := req.Params["path"].(string)
		if path == "" {
			writeError(w, http.StatusBadRequest, errors.New("validate_path requires a path param"))
			return
		}
		info, err := os.Stat(path)
		switch {
		case err != nil:
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": err.Error()})
		case !info.IsDir():
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": "not a directory"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
	}
}

// ListenAndServe runs the worker until ctx is cancelled, then shuts down
// the HTTP server and every background sync.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.Register(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("fsworker: encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
