package handlers

import (
	"net/http"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/services"
)

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readinessPayload struct {
	Status      string                        `json:"status"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Version     string                        `json:"version,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	GeneratedAt time.Time                     `json:"generatedAt"`
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs a new HealthHandlers instance. A nil system
// service degrades /readyz to the static liveness response.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports dependency readiness; failures answer 503 so load balancers
// drain the instance.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, readinessPayload{
			Status:      string(domain.HealthStatusError),
			GeneratedAt: time.Now().UTC(),
		})
		return
	}

	payload := readinessPayload{
		Status:      string(report.Status),
		Version:     report.Version,
		Uptime:      report.Uptime.String(),
		GeneratedAt: report.GeneratedAt,
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload.Checks[name] = healthCheckPayload{
				Status:    string(check.Status),
				Detail:    check.Detail,
				Error:     check.Error,
				LatencyMS: check.Latency.Milliseconds(),
			}
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}
