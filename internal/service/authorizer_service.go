package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// ErrUnauthorized is returned when a connect attempt names an unknown
// tenant or a missing session. It is a policy deny, not a fault.
var ErrUnauthorized = errors.New("unauthorized")

// AuthorizerService validates tenant and session before the handshake and
// resolves the tenant's quota settings into an authorization context.
// Sessions are short lived: one must exist (created via the session API)
// before a connection to it can be authorized.
type AuthorizerService struct {
	tenants  *TenantService
	registry *RegistryService
	logger   *zap.Logger
}

// NewAuthorizerService creates a new authorizer
func NewAuthorizerService(tenants *TenantService, registry *RegistryService, logger *zap.Logger) *AuthorizerService {
	return &AuthorizerService{
		tenants:  tenants,
		registry: registry,
		logger:   logger,
	}
}

// Authorize checks tenant and session and returns the quota context the
// transport carries for the connection's lifetime. ErrUnauthorized covers
// every policy deny; any other error is a fault.
func (s *AuthorizerService) Authorize(ctx context.Context, tenantID, sessionID string) (*model.AuthContext, error) {
	if tenantID == "" || sessionID == "" {
		return nil, ErrUnauthorized
	}

	settings, err := s.tenants.GetSettings(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("Tenant not found", zap.String("tenant_id", tenantID))
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant settings: %w", err)
	}

	if _, err := s.registry.Snapshot(ctx, tenantID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("Session not found",
				zap.String("tenant_id", tenantID),
				zap.String("session_id", sessionID))
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to check session: %w", err)
	}

	return model.NewAuthContext(tenantID, sessionID, settings), nil
}
