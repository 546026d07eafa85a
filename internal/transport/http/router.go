package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mpi-mediator/pkg/platform/httputil"
)

// healthCheckTimeout bounds each dependency check so a hung dependency
// cannot stall the health endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthCheck reports the reachability of one dependency.
type HealthCheck func(ctx context.Context) error

// HealthChecks maps dependency names to their reachability checks.
type HealthChecks map[string]HealthCheck

// NewRouter assembles the mediator's HTTP routes.
func NewRouter(h *Handler, checks HealthChecks) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.Register(r)
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs each dependency check best-effort and reports per-check
// flags. Any failing check degrades the overall status to 503; the process
// itself keeps serving.
func handleHealth(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := healthResponse{Status: "ok"}
		if len(checks) > 0 {
			out.Checks = make(map[string]string, len(checks))
		}

		status := http.StatusOK
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				out.Checks[name] = err.Error()
				out.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, out)
	}
}
