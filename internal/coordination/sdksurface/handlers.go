// Package sdksurface exposes the coordinator's /sdk/... HTTP endpoints,
// the callback surface connector workers report through while a sync runs:
// emit event, store content, heartbeat, scanned, state, complete, fail.
package sdksurface

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// maxContentBytes bounds a single /sdk/content upload.
const maxContentBytes = 64 << 20

// Handler serves the SDK surface. Register registers its routes on a mux
// shared with the operator API.
type Handler struct {
	events ports.EventQueue
	blobs  ports.BlobStore
	runs   ports.SyncRunLedger
}

// New builds a Handler.
func New(events ports.EventQueue, blobs ports.BlobStore, runs ports.SyncRunLedger) *Handler {
	return &Handler{events: events, blobs: blobs, runs: runs}
}

// Register adds the SDK routes to mux using Go 1.22 method+path patterns.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sdk/events", h.handleEvents)
	mux.HandleFunc("POST /sdk/content", h.handleContent)
	mux.HandleFunc("POST /sdk/sync/{id}/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /sdk/sync/{id}/scanned", h.handleScanned)
	mux.HandleFunc("POST /sdk/sync/{id}/state", h.handleState)
	mux.HandleFunc("POST /sdk/sync/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /sdk/sync/{id}/fail", h.handleFail)
}

type emitEventRequest struct {
	SourceID string              `json:"source_id"`
	Event    domain.EventPayload `json:"event"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding event request: %w", err))
		return
	}
	if req.SourceID == "" || req.Event.DocumentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("source_id and event.document_id are required"))
		return
	}
	switch req.Event.Type {
	case domain.EventDocumentCreated, domain.EventDocumentUpdated, domain.EventDocumentDeleted:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", req.Event.Type))
		return
	}

	id, err := h.events.Enqueue(r.Context(), req.SourceID, req.Event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": id})
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxContentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading content body: %w", err))
		return
	}
	if len(body) > maxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("content exceeds upload limit"))
		return
	}

	id, err := h.blobs.Put(r.Context(), body, r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content_id": id})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	err := h.runs.Heartbeat(r.Context(), r.PathValue("id"))
	h.writeRunResult(w, err)
}

type scannedRequest struct {
	N int64 `json:"n"`
}

func (h *Handler) handleScanned(w http.ResponseWriter, r *http.Request) {
	var req scannedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding scanned request: %w", err))
		return
	}
	if req.N < 0 {
		writeError(w, http.StatusBadRequest, errors.New("n must be non-negative"))
		return
	}
	err := h.runs.IncrementScanned(r.Context(), r.PathValue("id"), req.N)
	h.writeRunResult(w, err)
}

type stateRequest struct {
	ConnectorState string `json:"connector_state"`
}

// handleState checkpoints the connector's cursor document. The ledger
// couples the write to the run's heartbeat; a checkpoint from a run that
// is no longer running is discarded whole, cursor included.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding state request: %w", err))
		return
	}
	err := h.runs.SetConnectorState(r.Context(), r.PathValue("id"), req.ConnectorState)
	h.writeRunResult(w, err)
}

type completeRequest struct {
	DocumentsProcessed int64 `json:"documents_processed"`
	DocumentsUpdated   int64 `json:"documents_updated"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding complete request: %w", err))
		return
	}
	id := r.PathValue("id")
	logger.Info("sdk: sync run %s completed (processed=%d updated=%d)", id, req.DocumentsProcessed, req.DocumentsUpdated)
	err := h.runs.Complete(r.Context(), id, req.DocumentsProcessed, req.DocumentsUpdated)
	h.writeRunResult(w, err)
}

type failRequest struct {
	Error string `json:"error"`
}

func (h *Handler) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding fail request: %w", err))
		return
	}
	id := r.PathValue("id")
	logger.Warn("sdk: sync run %s reported failure: %s", id, req.Error)
	err := h.runs.Fail(r.Context(), id, req.Error)
	h.writeRunResult(w, err)
}

// writeRunResult maps ledger errors onto the SDK's status codes: unknown run
// is 404, a rejected terminal transition (complete or fail on a run that is
// not running) is 409. Heartbeat, scanned, and state writes never produce
// the 409 path; the ledger discards them once the run is terminal.
func (h *Handler) writeRunResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("sdk: encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
