package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
)

// DispatchResult is the outcome of handling one inbound message
type DispatchResult string

const (
	DispatchDelivered DispatchResult = "delivered"
	DispatchThrottled DispatchResult = "throttled"
)

// DispatchService fans an inbound message out to every connection in the
// originating session. Each member except the sender receives the raw body
// followed by the wrapped envelope; the sender receives only the envelope.
// That duplication is intentional fan-out behavior.
type DispatchService struct {
	limiter   *RateLimitService
	registry  *RegistryService
	deliverer Deliverer
	logger    *zap.Logger
}

// NewDispatchService creates a new fan-out dispatcher
func NewDispatchService(
	limiter *RateLimitService,
	registry *RegistryService,
	deliverer Deliverer,
	logger *zap.Logger,
) *DispatchService {
	return &DispatchService{
		limiter:   limiter,
		registry:  registry,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Dispatch applies the message-rate quota, refreshes the session TTL and
// delivers the message to the session's members. A throttled message
// yields a notice to the sender only, with no TTL refresh and no fan-out.
// A non-nil error is a fault; the transport closes the connection on it.
func (s *DispatchService) Dispatch(ctx context.Context, msg *model.InboundMessage) (DispatchResult, error) {
	if msg.MessagesPerMinute >= 0 {
		decision, err := s.limiter.CheckAndConsume(ctx, MessageScope(msg.TenantID), msg.MessagesPerMinute)
		if err != nil {
			return "", fmt.Errorf("message rate check failed: %w", err)
		}
		if !decision.Admitted {
			s.logger.Info("Tenant message rate limit hit",
				zap.String("tenant_id", msg.TenantID),
				zap.String("connection_id", msg.ConnectionID),
				zap.Int64("count", decision.Count))
			s.sendThrottleNotice(ctx, msg)
			return DispatchThrottled, nil
		}
	}

	if !json.Valid(msg.Body) {
		return "", fmt.Errorf("message body is not valid JSON")
	}

	// The set captured by the refresh is the authoritative delivery list:
	// membership at refresh time, not a second read.
	members, err := s.registry.RefreshTTL(ctx, msg.TenantID, msg.SessionID, msg.SessionTTLSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to refresh session %s/%s: %w", msg.TenantID, msg.SessionID, err)
	}

	for _, connectionID := range members {
		if connectionID == msg.ConnectionID {
			continue
		}
		s.post(ctx, connectionID, msg.Body)
	}

	envelope, err := json.Marshal(model.Envelope{
		Message:      msg.Body,
		TenantID:     msg.TenantID,
		SessionID:    msg.SessionID,
		ConnectionID: msg.ConnectionID,
		Queue:        msg.Queue,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	for _, connectionID := range members {
		s.post(ctx, connectionID, envelope)
	}

	return DispatchDelivered, nil
}

// post delivers to one connection; a failed or gone member never aborts
// delivery to the rest of the snapshot.
func (s *DispatchService) post(ctx context.Context, connectionID string, payload []byte) {
	if err := s.deliverer.PostToConnection(ctx, connectionID, payload); err != nil {
		if errors.Is(err, ErrGone) {
			s.logger.Debug("Skipping gone connection",
				zap.String("connection_id", connectionID))
			return
		}
		s.logger.Warn("Failed to deliver to connection",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}

func (s *DispatchService) sendThrottleNotice(ctx context.Context, msg *model.InboundMessage) {
	notice, err := json.Marshal(model.NewThrottleNotice(msg.ConnectionID, msg.RequestID))
	if err != nil {
		s.logger.Error("Failed to marshal throttle notice", zap.Error(err))
		return
	}
	if err := s.deliverer.PostToConnection(ctx, msg.ConnectionID, notice); err != nil && !errors.Is(err, ErrGone) {
		s.logger.Warn("Failed to deliver throttle notice",
			zap.String("connection_id", msg.ConnectionID),
			zap.Error(err))
	}
}
