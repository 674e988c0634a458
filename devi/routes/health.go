package routes

import (
	"devi/devi/controllers"

	"github.com/go-chi/chi/v5"
)

// HealthRoutes serves readiness on /health (pings configured backends) and
// liveness on /health/live (process only).
func HealthRoutes(ctrl *controllers.HealthController) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ctrl.HealthCheck)
	r.Head("/", ctrl.HealthCheck)
	r.Get("/live", ctrl.Live)
	return r
}
