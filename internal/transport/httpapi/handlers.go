// Package httpapi provides the HTTP admin surface: tenant settings CRUD
// and explicit session lifecycle, alongside health and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/service"
	"github.com/fanoutlabs/gateway/internal/store"
)

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	tenants  *service.TenantService
	sessions *service.SessionService
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(tenants *service.TenantService, sessions *service.SessionService, logger *zap.Logger) *Handlers {
	return &Handlers{
		tenants:  tenants,
		sessions: sessions,
		logger:   logger,
	}
}

type tenantPayload struct {
	TenantID              string `json:"tenantId"`
	TenantConnections     int64  `json:"tenantConnections"`
	ConnectionsPerSession int64  `json:"connectionsPerSession"`
	TenantPerMinute       int64  `json:"tenantPerMinute"`
	SessionPerMinute      int64  `json:"sessionPerMinute"`
	MessagesPerMinute     int64  `json:"messagesPerMinute"`
	SessionTTLSeconds     int64  `json:"sessionTTL"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// ListTenants handles GET /tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.ListSettings(r.Context())
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal server error"})
		return
	}

	payload := make([]tenantPayload, 0, len(tenants))
	for _, t := range tenants {
		payload = append(payload, tenantPayload{
			TenantID:              t.TenantID,
			TenantConnections:     t.TenantConnections,
			ConnectionsPerSession: t.ConnectionsPerSession,
			TenantPerMinute:       t.TenantPerMinute,
			SessionPerMinute:      t.SessionPerMinute,
			MessagesPerMinute:     t.MessagesPerMinute,
			SessionTTLSeconds:     t.SessionTTLSeconds,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

// CreateTenant handles POST /tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var payload tenantPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body"})
		return
	}

	settings := &model.TenantSettings{
		TenantID:              payload.TenantID,
		TenantConnections:     payload.TenantConnections,
		ConnectionsPerSession: payload.ConnectionsPerSession,
		TenantPerMinute:       payload.TenantPerMinute,
		SessionPerMinute:      payload.SessionPerMinute,
		MessagesPerMinute:     payload.MessagesPerMinute,
		SessionTTLSeconds:     payload.SessionTTLSeconds,
	}
	if err := h.tenants.CreateTenant(r.Context(), settings); err != nil {
		h.logger.Error("Failed to create tenant",
			zap.String("tenant_id", payload.TenantID),
			zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

// DeleteTenant handles DELETE /tenants/{tenantId}
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	if err := h.tenants.DeleteTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "tenant not found"})
			return
		}
		h.logger.Error("Failed to delete tenant",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutSession handles PUT /session. Tenant and session ids arrive as query
// parameters, the same way the websocket endpoint receives them.
func (h *Handlers) PutSession(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	sessionID := r.URL.Query().Get("sessionId")

	err := h.sessions.Create(r.Context(), tenantID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request"})
			return
		}
		h.logger.Error("Failed to create session",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tenantId":  tenantID,
		"sessionId": sessionID,
	})
}

// DeleteSession handles DELETE /session
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	sessionID := r.URL.Query().Get("sessionId")

	if err := h.sessions.Delete(r.Context(), tenantID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "session not found"})
			return
		}
		h.logger.Error("Failed to delete session",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
