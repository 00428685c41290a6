package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// SweeperService periodically scans the expiry index for lapsed sessions,
// removes each one atomically while capturing its pre-removal connection
// set, and notifies the removal handler. The conditional delete means a
// session refreshed between scan and delete survives the sweep.
type SweeperService struct {
	sessions  store.SessionStore
	handler   RemovalHandler
	interval  time.Duration
	batchSize int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeperService creates a new expiry sweeper
func NewSweeperService(
	sessions store.SessionStore,
	handler RemovalHandler,
	interval time.Duration,
	batchSize int64,
	logger *zap.Logger,
) *SweeperService {
	return &SweeperService{
		sessions:  sessions,
		handler:   handler,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps until the context is canceled. Call in its own goroutine.
func (s *SweeperService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over the expiry index
func (s *SweeperService) Sweep(ctx context.Context) {
	cutoff := s.now().Unix()

	refs, err := s.sessions.DueSessions(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to scan for expired sessions", zap.Error(err))
		return
	}

	for _, ref := range refs {
		members, err := s.sessions.Expire(ctx, ref.TenantID, ref.SessionID, cutoff)
		if errors.Is(err, store.ErrNotFound) {
			// refreshed or already removed since the scan
			continue
		}
		if err != nil {
			s.logger.Error("Failed to expire session",
				zap.String("tenant_id", ref.TenantID),
				zap.String("session_id", ref.SessionID),
				zap.Error(err))
			continue
		}

		s.handler.HandleRemoval(ctx, &model.SessionRemoval{
			TenantID:      ref.TenantID,
			SessionID:     ref.SessionID,
			ConnectionIDs: members,
			Expired:       true,
		})
	}
}
