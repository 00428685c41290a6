package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/config"
	"github.com/fanoutlabs/gateway/internal/health"
	"github.com/fanoutlabs/gateway/internal/metrics"
)

// Server is the single HTTP listener: websocket connects, the admin API,
// health probes and metrics all hang off one router.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	handlers *Handlers,
	healthChecker *health.HealthChecker,
	m *metrics.Metrics,
	connectHandler http.HandlerFunc,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	// The websocket endpoint stays outside the admin middleware chain:
	// hijacked connections cannot go through the status-recording writer.
	router.HandleFunc("/ws", connectHandler).Methods(http.MethodGet)

	admin := router.PathPrefix("/").Subrouter()
	admin.Use(Recovery(logger), Logging(logger, m))
	admin.HandleFunc("/tenants", handlers.ListTenants).Methods(http.MethodGet)
	admin.HandleFunc("/tenants", handlers.CreateTenant).Methods(http.MethodPost)
	admin.HandleFunc("/tenants/{tenantId}", handlers.DeleteTenant).Methods(http.MethodDelete)
	admin.HandleFunc("/session", handlers.PutSession).Methods(http.MethodPut)
	admin.HandleFunc("/session", handlers.DeleteSession).Methods(http.MethodDelete)

	router.HandleFunc("/healthz", healthChecker.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthChecker.ReadinessHandler).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		logger: logger,
	}
}

// Start begins serving; it blocks until the listener stops
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
