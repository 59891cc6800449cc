// Package api is the coordinator's operator-facing HTTP surface: sync
// triggers and cancels, SSE progress streams, source management, schedule
// and connector listings, and action fan-out to connector workers. Plain
// net/http with Go 1.22 method+path mux patterns.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// Server serves the operator API.
type Server struct {
	manager       ports.SyncManager
	sources       ports.SourceStore
	runs          ports.SyncRunLedger
	connector     ports.ConnectorClient
	connectorURLs map[domain.SourceType]string
}

// New builds a Server.
func New(
	manager ports.SyncManager,
	sources ports.SourceStore,
	runs ports.SyncRunLedger,
	connector ports.ConnectorClient,
	connectorURLs map[domain.SourceType]string,
) *Server {
	return &Server{
		manager:       manager,
		sources:       sources,
		runs:          runs,
		connector:     connector,
		connectorURLs: connectorURLs,
	}
}

// Register adds the operator routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sync", s.handleTrigger)
	mux.HandleFunc("POST /sync/{id}", s.handleTriggerByPath)
	mux.HandleFunc("POST /sync/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /sync/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /schedules", s.handleSchedules)
	mux.HandleFunc("POST /sources", s.handleCreateSource)
	mux.HandleFunc("GET /sources", s.handleListSources)
	mux.HandleFunc("GET /sources/{id}", s.handleGetSource)
	mux.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource)
	mux.HandleFunc("GET /connectors", s.handleConnectors)
	mux.HandleFunc("POST /action", s.handleAction)
	mux.HandleFunc("GET /actions", s.handleActions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	SourceID string             `json:"source_id"`
	SyncMode domain.SyncType    `json:"sync_mode,omitempty"`
	Trigger  domain.TriggerType `json:"trigger_type,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding trigger request: %w", err))
		return
	}
	s.trigger(w, r, req.SourceID, req.SyncMode, req.Trigger)
}

func (s *Server) handleTriggerByPath(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	// Body is optional when triggering by path; a missing or empty body
	// means the default sync mode.
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.trigger(w, r, r.PathValue("id"), req.SyncMode, req.Trigger)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, sourceID string, mode domain.SyncType, trigger domain.TriggerType) {
	if sourceID == "" {
		writeError(w, http.StatusBadRequest, errors.New("source_id is required"))
		return
	}
	switch mode {
	case "":
		mode = domain.SyncTypeIncremental
	case domain.SyncTypeFull, domain.SyncTypeIncremental:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown sync mode %q", mode))
		return
	}
	switch trigger {
	case "":
		trigger = domain.TriggerManual
	case domain.TriggerManual, domain.TriggerWebhook:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown trigger type %q", trigger))
		return
	}

	run, err := s.manager.Trigger(r.Context(), sourceID, mode, trigger)
	if err != nil {
		writeTriggerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, domain.ErrNotSupported):
		// The connector declared no cancel capability: the run is still
		// running, and the operator is told so rather than handed a
		// cancelled status the ledger does not reflect.
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_supported", "error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// handleProgress streams SyncRun row updates as server-sent events. One
// event per observed row change, and the stream closes once the run is
// terminal. Wakeups ride the ledger's notification channel with a polling
// floor so a missed notification can only delay an update, never lose it.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	notify := s.runs.Notifications()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastSent := ""
	for {
		payload, err := json.Marshal(runView(*run))
		if err != nil {
			return
		}
		if string(payload) != lastSent {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastSent = string(payload)
		}
		if run.IsTerminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-notify:
		case <-ticker.C:
		}

		run, err = s.runs.Get(r.Context(), id)
		if err != nil {
			return
		}
	}
}

type createSourceRequest struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Config          map[string]any `json:"config"`
	IntervalSeconds int64          `json:"interval_seconds,omitempty"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding source request: %w", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	sourceType := domain.SourceType(req.Type)
	if _, ok := s.connectorURLs[sourceType]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no connector configured for source type %q", req.Type))
		return
	}

	source := domain.Source{
		ID:                 req.ID,
		Name:               req.Name,
		Type:               sourceType,
		Config:             req.Config,
		Active:             true,
		SyncStatus:         domain.SourceSyncPending,
		SchedulingInterval: time.Duration(req.IntervalSeconds) * time.Second,
	}
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	if source.Config == nil {
		source.Config = map[string]any{}
	}
	if source.SchedulingInterval <= 0 {
		source.SchedulingInterval = time.Hour
	}

	if err := s.sources.Save(r.Context(), source); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceView(source))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	list, err := s.sources.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, src := range list {
		views = append(views, sourceView(src))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": views})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.sources.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, sourceView(*source))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.sources.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func sourceView(src domain.Source) map[string]any {
	return map[string]any{
		"id":               src.ID,
		"name":             src.Name,
		"type":             string(src.Type),
		"active":           src.Active,
		"sync_status":      string(src.SyncStatus),
		"next_sync_at":     src.NextSyncAt,
		"interval_seconds": int64(src.SchedulingInterval.Seconds()),
	}
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	due, err := s.sources.ListDue(r.Context(), time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type scheduleView struct {
		SourceID   string     `json:"source_id"`
		Name       string     `json:"name"`
		Type       string     `json:"type"`
		NextSyncAt *time.Time `json:"next_sync_at"`
	}
	views := make([]scheduleView, 0, len(due))
	for _, src := range due {
		views = append(views, scheduleView{
			SourceID:   src.ID,
			Name:       src.Name,
			Type:       string(src.Type),
			NextSyncAt: src.NextSyncAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"due": views})
}

// handleConnectors reports each configured connector worker's manifest and
// health, fetched live so a dead worker shows up immediately.
func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	type connectorView struct {
		Type     string           `json:"type"`
		URL      string           `json:"url"`
		Healthy  bool             `json:"healthy"`
		Manifest *domain.Manifest `json:"manifest,omitempty"`
		Error    string           `json:"error,omitempty"`
	}

	views := make([]connectorView, 0, len(s.connectorURLs))
	for sourceType, url := range s.connectorURLs {
		view := connectorView{Type: string(sourceType), URL: url}
		if err := s.connector.Health(r.Context(), url); err != nil {
			view.Error = err.Error()
		} else {
			view.Healthy = true
			if manifest, err := s.connector.Manifest(r.Context(), url); err == nil {
				view.Manifest = &manifest
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": views})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding action request: %w", err))
		return
	}
	if req.SourceID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, errors.New("source_id and action are required"))
		return
	}

	source, err := s.sources.Get(r.Context(), req.SourceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	url, ok := s.connectorURLs[source.Type]
	if !ok || url == "" {
		writeError(w, http.StatusBadRequest, domain.ErrNoConnectorURL)
		return
	}

	result, err := s.connector.Action(r.Context(), url, req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleActions aggregates every connector's declared actions into one list.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	type actionView struct {
		ConnectorType string `json:"connector_type"`
		Name          string `json:"name"`
		Description   string `json:"description"`
	}

	var views []actionView
	for sourceType, url := range s.connectorURLs {
		manifest, err := s.connector.Manifest(r.Context(), url)
		if err != nil {
			logger.Warn("api: fetching manifest from %s failed: %v", url, err)
			continue
		}
		for _, action := range manifest.Actions {
			views = append(views, actionView{
				ConnectorType: string(sourceType),
				Name:          action.Name,
				Description:   action.Description,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": views})
}

// writeTriggerError maps admission and lookup failures onto operator-facing
// status codes: concurrency rejections are 409, unknown sources 404,
// inactive sources and missing connector URLs 400.
func writeTriggerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSyncAlreadyRunning), errors.Is(err, domain.ErrConcurrencyLimitReached):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrSourceInactive), errors.Is(err, domain.ErrNoConnectorURL):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type syncRunView struct {
	ID                 string     `json:"id"`
	SourceID           string     `json:"source_id"`
	SyncType           string     `json:"sync_type"`
	Status             string     `json:"status"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	DocumentsScanned   int64      `json:"documents_scanned"`
	DocumentsProcessed int64      `json:"documents_processed"`
	DocumentsUpdated   int64      `json:"documents_updated"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

func runView(run domain.SyncRun) syncRunView {
	return syncRunView{
		ID:                 run.ID,
		SourceID:           run.SourceID,
		SyncType:           string(run.SyncType),
		Status:             string(run.Status),
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		DocumentsScanned:   run.DocumentsScanned,
		DocumentsProcessed: run.DocumentsProcessed,
		DocumentsUpdated:   run.DocumentsUpdated,
		ErrorMessage:       run.ErrorMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("api: encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe runs the combined operator+SDK mux until ctx is cancelled,
// then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, mux *http.ServeMux) error {
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
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
