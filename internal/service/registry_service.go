package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// RegistryService tracks the live connection set of each session. All
// mutations pair the set change with the tenant connection counter change
// in one store transaction: the counter must always equal the sum of set
// sizes across the tenant's sessions, so the two are never mutated
// independently.
type RegistryService struct {
	sessions store.SessionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistryService creates a new connection registry service
func NewRegistryService(sessions store.SessionStore, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// AddConnection adds connectionID to the session, refreshes the session
// expiry to now+ttlSeconds unconditionally and increments the tenant
// connection counter, atomically. It returns the connection set as it was
// before the add so callers can run capacity checks without a second
// round trip. Duplicate adds are no-ops on the set.
func (s *RegistryService) AddConnection(ctx context.Context, tenantID, sessionID, connectionID string, ttlSeconds int64) ([]string, error) {
	expiresAt := s.now().Unix() + ttlSeconds
	previous, err := s.sessions.AddConnection(ctx, tenantID, sessionID, connectionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register connection: %w", err)
	}

	s.logger.Debug("Connection registered",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("connection_id", connectionID),
		zap.Int("previous_size", len(previous)))

	return previous, nil
}

// RemoveConnection removes connectionID from the session and decrements
// the tenant connection counter, atomically. Removing an id that is not a
// member, or removing from an expired session, is a safe no-op.
func (s *RegistryService) RemoveConnection(ctx context.Context, tenantID, sessionID, connectionID string) error {
	if err := s.sessions.RemoveConnection(ctx, tenantID, sessionID, connectionID); err != nil {
		return fmt.Errorf("failed to deregister connection: %w", err)
	}

	s.logger.Debug("Connection deregistered",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("connection_id", connectionID))

	return nil
}

// Snapshot is a point-in-time read of the session. The set may change
// concurrently; there is no lock to hold.
func (s *RegistryService) Snapshot(ctx context.Context, tenantID, sessionID string) (*model.SessionSnapshot, error) {
	return s.sessions.Get(ctx, tenantID, sessionID)
}

// RefreshTTL moves the session expiry to now+ttlSeconds and returns the
// connection set captured by the same operation. That captured set is the
// authoritative delivery list for a message accepted at refresh time.
func (s *RegistryService) RefreshTTL(ctx context.Context, tenantID, sessionID string, ttlSeconds int64) ([]string, error) {
	expiresAt := s.now().Unix() + ttlSeconds
	return s.sessions.RefreshTTL(ctx, tenantID, sessionID, expiresAt)
}
