package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
)

// RemovalHandler reacts to session records being removed from the store
type RemovalHandler interface {
	HandleRemoval(ctx context.Context, removal *model.SessionRemoval)
}

// ReaperService force-closes the connections of sessions removed by the
// TTL sweep. Explicit deletions are left alone: their connections belong
// to the user, not the reaper. Best effort only; a connection that fails
// to close is eventually collected by the transport's own keep-alive.
type ReaperService struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewReaperService creates a new expiry reaper
func NewReaperService(deliverer Deliverer, logger *zap.Logger) *ReaperService {
	return &ReaperService{
		deliverer: deliverer,
		logger:    logger,
	}
}

// HandleRemoval implements RemovalHandler. Only expiry-driven removals
// with a non-empty pre-removal connection set trigger closes.
func (s *ReaperService) HandleRemoval(ctx context.Context, removal *model.SessionRemoval) {
	if !removal.Expired || len(removal.ConnectionIDs) == 0 {
		return
	}

	closed := 0
	for _, connectionID := range removal.ConnectionIDs {
		if err := s.deliverer.ForceClose(ctx, connectionID); err != nil && !errors.Is(err, ErrGone) {
			s.logger.Warn("Failed to close connection of expired session",
				zap.String("tenant_id", removal.TenantID),
				zap.String("session_id", removal.SessionID),
				zap.String("connection_id", connectionID),
				zap.Error(err))
			continue
		}
		closed++
	}

	s.logger.Info("Reaped expired session",
		zap.String("tenant_id", removal.TenantID),
		zap.String("session_id", removal.SessionID),
		zap.Int("connections", len(removal.ConnectionIDs)),
		zap.Int("closed", closed))
}
