package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/store"
)

const (
	// secondsPerWindow is the fixed rate window size
	secondsPerWindow = 60

	// windowGraceSeconds keeps a bucket alive one second past its window
	// so late in-window increments never resurrect an expired key.
	windowGraceSeconds = 1
)

// ConnectScope is the bucket scope for tenant-wide connects per minute.
func ConnectScope(tenantID string) string {
	return tenantID + ":minute"
}

// SessionConnectScope is the bucket scope for per-session connects per minute.
func SessionConnectScope(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID + ":minute"
}

// MessageScope is the bucket scope for tenant-wide messages per minute.
func MessageScope(tenantID string) string {
	return tenantID + ":minutemsg"
}

// RateDecision is the outcome of one quota check
type RateDecision struct {
	Admitted bool
	Count    int64 // post-increment count in the current window
}

// RateLimitService turns a logical quota check into a windowed counter
// bucket and an admit/deny decision. This is a fixed-window counter: a
// burst straddling a window boundary can pass both windows' budgets.
// That boundary behavior is intentional and must be preserved.
type RateLimitService struct {
	counters store.CounterStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(counters store.CounterStore, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAndConsume consumes one unit from the scope's current window and
// admits iff the post-increment count is within limit. The limiter only
// compares numerically; callers must special-case negative limits as
// "no check" upstream. On error, callers must fail closed.
func (s *RateLimitService) CheckAndConsume(ctx context.Context, scope string, limit int64) (RateDecision, error) {
	windowStart := (s.now().Unix() / secondsPerWindow) * secondsPerWindow
	bucketKey := fmt.Sprintf("%s:%d", scope, windowStart)

	count, err := s.counters.IncrementWithDefault(ctx, bucketKey, 1, windowStart+secondsPerWindow+windowGraceSeconds)
	if err != nil {
		return RateDecision{}, fmt.Errorf("failed to consume rate bucket %q: %w", bucketKey, err)
	}

	if count > limit {
		s.logger.Debug("Rate limit exceeded",
			zap.String("scope", scope),
			zap.Int64("count", count),
			zap.Int64("limit", limit))
	}

	return RateDecision{Admitted: count <= limit, Count: count}, nil
}
