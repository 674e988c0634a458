package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is an optional backend the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	checks map[string]Pinger
}

func NewHealthController(checks map[string]Pinger) *HealthController {
	return &HealthController{checks: checks}
}

// HealthCheck answers {"status":"ok"} and, when backends are configured, one
// entry per backend. Any failing backend turns the status into "degraded".
func (h *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Live reports that the process is serving, without probing any backend.
func (h *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
