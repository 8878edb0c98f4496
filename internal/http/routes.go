package httpx

import (
	"net/http"

	"github.com/matchops/leadsweep/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Runs *service.RunService
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	runHandlers := &RunHandlers{Svc: services.Runs}
	registerRunRoutes(mux, runHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("POST /api/runs", h.CreateRun)
	mux.HandleFunc("GET /api/runs", h.ListRuns)
	mux.HandleFunc("GET /api/runs/stats", h.Stats)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	mux.HandleFunc("POST /api/runs/{id}/pause", h.PauseRun)
	mux.HandleFunc("POST /api/runs/{id}/resume", h.ResumeRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", h.CancelRun)
	mux.HandleFunc("GET /api/runs/{id}/results", h.ListResults)
	mux.HandleFunc("GET /api/runs/{id}/errors", h.ListErrors)
	mux.HandleFunc("DELETE /api/runs/{id}", h.DeleteRun)
}
