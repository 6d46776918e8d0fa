// health.go — health endpoints для Kubernetes liveness/readiness probe.
package handlers

import (
	"encoding/json"
	"net/http"
)

// ReadinessChecker — проверка готовности одной зависимости.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler обслуживает /health/live и /health/ready.
type HealthHandler struct {
	checkers map[string]ReadinessChecker
}

// NewHealthHandler создаёт health handler с именованными проверками.
func NewHealthHandler(checkers map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// Live — liveness probe: процесс жив.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready — readiness probe: все зависимости доступны.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	type check struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	result := make(map[string]check, len(h.checkers))
	code := http.StatusOK
	for name, c := range h.checkers {
		status, message := c.CheckReady()
		result[name] = check{Status: status, Message: message}
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, result)
}

// writeJSON сериализует ответ с заголовком Content-Type.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
