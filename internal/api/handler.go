// Package api implements the HTTP control surface for the analysis
// pipeline: initiation, session inspection, recovery triggers, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/monitor"
	"github.com/curaition/bitcoin-newsletter/internal/orchestrator"
)

// Initiator starts a batch processing run.
type Initiator interface {
	InitiateBatchProcessing(ctx context.Context, req orchestrator.Request) (*core.InitiationResult, error)
}

// Reporter builds progress reports for sessions.
type Reporter interface {
	Report(ctx context.Context, sessionID string) (*monitor.SessionReport, error)
}

// Recoverer triggers the recovery passes on demand.
type Recoverer interface {
	RecoverFailedItems(ctx context.Context) (int, error)
	CleanupStalledBatches(ctx context.Context) (int, error)
}

// HealthChecker reports backend connectivity and round-trip latency.
type HealthChecker interface {
	Healthy(ctx context.Context) (time.Duration, error)
	Uptime() time.Duration
}

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	initiator Initiator
	store     core.JobStore
	reporter  Reporter
	recoverer Recoverer
	health    HealthChecker
	version   string
}

func NewHandler(initiator Initiator, store core.JobStore, reporter Reporter, recoverer Recoverer, health HealthChecker, version string) *Handler {
	return &Handler{
		initiator: initiator,
		store:     store,
		reporter:  reporter,
		recoverer: recoverer,
		health:    health,
		version:   version,
	}
}

// InitiateProcessing handles POST /v1/processing/initiate. An empty body
// means default options. Admitted runs answer 202; policy rejections answer
// 200 with the rejection status in the body.
func (h *Handler) InitiateProcessing(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.initiator.InitiateBatchProcessing(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == core.InitiationStarted {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, result)
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !core.IsValidUUID(id) {
		WriteError(w, core.NewInvalidRequestError("Session id must be a UUID.", map[string]any{"id": id}))
		return
	}

	bundle, err := h.store.GetSessionWithRecords(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, bundle)
}

// GetSessionReport handles GET /v1/sessions/{id}/report.
func (h *Handler) GetSessionReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !core.IsValidUUID(id) {
		WriteError(w, core.NewInvalidRequestError("Session id must be a UUID.", map[string]any{"id": id}))
		return
	}

	report, err := h.reporter.Report(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// ListSessions handles GET /v1/sessions. Only active sessions are listed;
// terminal sessions are reachable by id.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.GetActiveSessions(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*core.Session{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// RecoverItems handles POST /v1/recovery/items.
func (h *Handler) RecoverItems(w http.ResponseWriter, r *http.Request) {
	n, err := h.recoverer.RecoverFailedItems(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items_resubmitted": n})
}

// RecoverStalled handles POST /v1/recovery/stalled.
func (h *Handler) RecoverStalled(w http.ResponseWriter, r *http.Request) {
	n, err := h.recoverer.CleanupStalledBatches(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"batches_failed": n})
}

// Health handles GET /v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(h.health.Uptime().Seconds()),
	}
	latency, err := h.health.Healthy(r.Context())
	if err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
		WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["backend_latency_ms"] = latency.Milliseconds()
	WriteJSON(w, http.StatusOK, body)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// at its zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return core.NewInvalidRequestError("Request body is not valid JSON.", map[string]any{"error": err.Error()})
	}
	return nil
}
