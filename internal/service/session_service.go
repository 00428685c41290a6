package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// SessionService handles explicit session lifecycle: create/refresh before
// a client connects and delete when a client is done. TTL-driven removal
// is the sweeper's job.
type SessionService struct {
	tenants  *TenantService
	sessions store.SessionStore
	handler  RemovalHandler
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService creates a new session lifecycle service
func NewSessionService(
	tenants *TenantService,
	sessions store.SessionStore,
	handler RemovalHandler,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		tenants:  tenants,
		sessions: sessions,
		handler:  handler,
		logger:   logger,
		now:      time.Now,
	}
}

// Create creates the session or refreshes its expiry to now plus the
// tenant's session TTL. The tenant must exist; store.ErrNotFound
// surfaces when it does not.
func (s *SessionService) Create(ctx context.Context, tenantID, sessionID string) error {
	if tenantID == "" || sessionID == "" {
		return fmt.Errorf("tenant id and session id are required")
	}

	settings, err := s.tenants.GetSettings(ctx, tenantID)
	if err != nil {
		return err
	}

	expiresAt := s.now().Unix() + settings.SessionTTLSeconds
	if err := s.sessions.Put(ctx, tenantID, sessionID, expiresAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session created",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.Int64("expires_at", expiresAt))

	return nil
}

// Delete removes the session explicitly. The removal is reported to the
// handler flagged as a deletion, so the reaper leaves the session's
// connections alone; they stay open until they disconnect on their own.
func (s *SessionService) Delete(ctx context.Context, tenantID, sessionID string) error {
	members, err := s.sessions.Delete(ctx, tenantID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("Session deleted",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.Int("connections", len(members)))

	s.handler.HandleRemoval(ctx, &model.SessionRemoval{
		TenantID:      tenantID,
		SessionID:     sessionID,
		ConnectionIDs: members,
		Expired:       false,
	})

	return nil
}
