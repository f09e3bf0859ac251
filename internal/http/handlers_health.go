package httpapi

import (
	"net/http"

	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider reports the state of the capture session
type StatusProvider interface {
	State() string
	Running() bool
	Pending() int
	Emitted() uint64
}

// AdminHandler serves health and metrics
type AdminHandler struct {
	status StatusProvider
}

// NewAdminHandler creates an admin handler over status
func NewAdminHandler(status StatusProvider) *AdminHandler {
	return &AdminHandler{status: status}
}

// HandleHealth returns the session state; 503 unless the session is running
func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		State:   h.status.State(),
		Pending: h.status.Pending(),
		Emitted: h.status.Emitted(),
	}
	status := http.StatusOK
	if !h.status.Running() {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// NewAdminRouter builds the admin router: GET /health and GET /metrics
func NewAdminRouter(h *AdminHandler, metrics *obs.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", h.HandleHealth)
	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}
