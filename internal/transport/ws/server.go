package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/config"
	"github.com/fanoutlabs/gateway/internal/metrics"
	"github.com/fanoutlabs/gateway/internal/service"
)

// Server handles websocket connect attempts. A rejected connect never
// completes the handshake: authorization and admission both run before
// the upgrade, so a denied client only ever sees an HTTP error status.
type Server struct {
	authorizer *service.AuthorizerService
	admission  *service.AdmissionService
	dispatcher *service.DispatchService
	hub        *Hub
	metrics    *metrics.Metrics
	cfg        config.TransportConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewServer creates a new websocket server
func NewServer(
	authorizer *service.AuthorizerService,
	admission *service.AdmissionService,
	dispatcher *service.DispatchService,
	hub *Hub,
	m *metrics.Metrics,
	cfg config.TransportConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		authorizer: authorizer,
		admission:  admission,
		dispatcher: dispatcher,
		hub:        hub,
		metrics:    m,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Tenant isolation happens via tenant/session auth, not Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleConnect is the websocket endpoint. Tenant and session ids arrive
// as query parameters, mirroring how the authorizer receives them before
// any connection state exists.
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenantId")
	sessionID := r.URL.Query().Get("sessionId")

	auth, err := s.authorizer.Authorize(r.Context(), tenantID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			s.metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		s.logger.Error("Authorization fault",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		s.metrics.ConnectionsRejected.WithLabelValues(string(service.ReasonFault)).Inc()
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	connectionID := uuid.NewString()
	decision := s.admission.Admit(r.Context(), auth, connectionID)
	if !decision.Accepted {
		s.metrics.ConnectionsRejected.WithLabelValues(string(decision.Reason)).Inc()
		if decision.Reason == service.ReasonFault {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Admission already committed; undo the registration.
		s.logger.Warn("Upgrade failed after admission",
			zap.String("tenant_id", tenantID),
			zap.String("connection_id", connectionID),
			zap.Error(err))
		if derr := s.admission.Disconnect(context.Background(), tenantID, sessionID, connectionID); derr != nil {
			s.logger.Error("Failed to roll back admitted connection",
				zap.String("connection_id", connectionID),
				zap.Error(derr))
		}
		return
	}

	client := newClient(connectionID, conn, auth, s)
	s.hub.register(client)
	s.metrics.ConnectionsAdmitted.Inc()
	s.metrics.ActiveConnections.Inc()

	s.logger.Info("Connection admitted",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("connection_id", connectionID))

	go client.writePump(s)
	go client.readPump(s)
}

func (s *Server) teardown(c *Client) {
	s.hub.unregister(c.id)
	c.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.admission.Disconnect(ctx, c.auth.TenantID, c.auth.SessionID, c.id); err != nil {
		s.logger.Error("Failed to deregister connection",
			zap.String("tenant_id", c.auth.TenantID),
			zap.String("session_id", c.auth.SessionID),
			zap.String("connection_id", c.id),
			zap.Error(err))
	}

	s.metrics.ActiveConnections.Dec()
	s.logger.Info("Connection closed",
		zap.String("tenant_id", c.auth.TenantID),
		zap.String("session_id", c.auth.SessionID),
		zap.String("connection_id", c.id))
}
