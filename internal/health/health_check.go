package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/store"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	tenantStore  store.TenantStore
	sessionStore store.SessionStore
	logger       *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(tenantStore store.TenantStore, sessionStore store.SessionStore, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		tenantStore:  tenantStore,
		sessionStore: sessionStore,
		logger:       logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests by pinging the
// tenant store (PostgreSQL) and the session/counter store (Redis).
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if err := h.tenantStore.Ping(ctx); err != nil {
		h.logger.Error("Tenant store health check failed", zap.Error(err))
		checks["tenant_store"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["tenant_store"] = "healthy"
	}

	if err := h.sessionStore.Ping(ctx); err != nil {
		h.logger.Error("Session store health check failed", zap.Error(err))
		checks["session_store"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["session_store"] = "healthy"
	}

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
