package httpx

import (
	"errors"
	"net/http"

	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/service"
)

// RunHandlers provides HTTP handlers for run-related operations.
type RunHandlers struct {
	Svc *service.RunService
}

const (
	defaultListLimit   = 50
	defaultErrorsLimit = 100
)

// CreateRun handles HTTP requests to create a new run.
func (h *RunHandlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	created, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, "create_failed", err)
		return
	}

	WriteJSON(w, http.StatusCreated, created)
}

// ListRuns handles HTTP requests to list the most recently created runs.
func (h *RunHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)

	runs, err := h.Svc.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "list_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}

// Stats handles HTTP requests to retrieve run counts per lifecycle state.
func (h *RunHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, "stats_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// GetRun handles HTTP requests to retrieve a run, including its counters and
// checkpoint position.
func (h *RunHandlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	run, err := h.Svc.Get(r.Context(), runID)
	if err != nil {
		writeServiceError(w, "get_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// PauseRun handles HTTP requests to pause a running run.
func (h *RunHandlers) PauseRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	run, err := h.Svc.Pause(r.Context(), runID)
	if err != nil {
		writeServiceError(w, "pause_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// ResumeRun handles HTTP requests to make a paused run claimable again.
func (h *RunHandlers) ResumeRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	run, err := h.Svc.Resume(r.Context(), runID)
	if err != nil {
		writeServiceError(w, "resume_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// CancelRun handles HTTP requests to terminally stop a run.
func (h *RunHandlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	run, err := h.Svc.Cancel(r.Context(), runID)
	if err != nil {
		writeServiceError(w, "cancel_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// ListResults handles HTTP requests to page through a run's per-item results.
// Supports cursor/order/limit query params; order defaults to the run's own
// processing order.
func (h *RunHandlers) ListResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	cursor, err := parseCursorQuery(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_cursor", Err: err})
		return
	}

	opts := model.ItemResultListOptions{
		RunID:  runID,
		Cursor: cursor,
		Order:  model.ProcessingOrder(r.URL.Query().Get("order")),
		Limit:  parseIntQuery(r, "limit", 0),
	}

	results, err := h.Svc.ListResults(r.Context(), opts)
	if err != nil {
		writeServiceError(w, "list_results_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, results)
}

// ListErrors handles HTTP requests for the newest entries of a run's capped
// error list.
func (h *RunHandlers) ListErrors(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}
	limit := parseIntQuery(r, "limit", defaultErrorsLimit)

	runErrors, err := h.Svc.ListErrors(r.Context(), runID, limit)
	if err != nil {
		writeServiceError(w, "list_errors_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, runErrors)
}

// DeleteRun handles HTTP requests to delete a terminal run and its results.
func (h *RunHandlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}

	if err := h.Svc.Delete(r.Context(), runID); err != nil {
		writeServiceError(w, "delete_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return "", false
	}
	return runID, true
}
