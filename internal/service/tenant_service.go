package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/store"
)

// TenantService serves tenant quota settings through an injected cache
// with a configurable TTL and explicit invalidation. The cache is owned
// here, never ambient process state, so settings changes become visible
// within one cache TTL at the latest.
type TenantService struct {
	tenantStore store.TenantStore
	cache       store.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewTenantService creates a new tenant service
func NewTenantService(
	tenantStore store.TenantStore,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *TenantService {
	return &TenantService{
		tenantStore: tenantStore,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// GetSettings retrieves tenant settings, using the cache when possible.
// Unknown tenants surface store.ErrNotFound.
func (s *TenantService) GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	cacheKey := s.settingsCacheKey(tenantID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if settings, ok := cached.(*model.TenantSettings); ok {
			s.logger.Debug("Tenant settings served from cache",
				zap.String("tenant_id", tenantID))
			return settings, nil
		}
	}

	settings, err := s.tenantStore.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenant settings: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey, settings, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache tenant settings",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return settings, nil
}

// ListSettings returns all tenants, bypassing the cache
func (s *TenantService) ListSettings(ctx context.Context) ([]*model.TenantSettings, error) {
	tenants, err := s.tenantStore.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// CreateTenant creates a new tenant configuration
func (s *TenantService) CreateTenant(ctx context.Context, settings *model.TenantSettings) error {
	if settings.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	// The expiry-index codec splits tenant from session on the first ':'.
	if strings.Contains(settings.TenantID, ":") {
		return fmt.Errorf("tenant id must not contain ':'")
	}
	if settings.SessionTTLSeconds <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	now := time.Now()
	settings.CreatedAt = now
	settings.UpdatedAt = now

	if err := s.tenantStore.CreateTenant(ctx, settings); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	s.logger.Info("Created tenant",
		zap.String("tenant_id", settings.TenantID),
		zap.Int64("tenant_connections", settings.TenantConnections),
		zap.Int64("messages_per_minute", settings.MessagesPerMinute))

	if err := s.cache.Set(ctx, s.settingsCacheKey(settings.TenantID), settings, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache new tenant settings",
			zap.String("tenant_id", settings.TenantID),
			zap.Error(err))
	}

	return nil
}

// DeleteTenant deletes a tenant and invalidates its cached settings
func (s *TenantService) DeleteTenant(ctx context.Context, tenantID string) error {
	if err := s.tenantStore.DeleteTenant(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	s.logger.Info("Deleted tenant", zap.String("tenant_id", tenantID))

	s.Invalidate(ctx, tenantID)
	return nil
}

// Invalidate drops the cached settings for a tenant. Exposed so settings
// changes made out of band can take effect before the TTL lapses.
func (s *TenantService) Invalidate(ctx context.Context, tenantID string) {
	if err := s.cache.Delete(ctx, s.settingsCacheKey(tenantID)); err != nil {
		s.logger.Warn("Failed to invalidate tenant settings cache",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}

func (s *TenantService) settingsCacheKey(tenantID string) string {
	return fmt.Sprintf("tenant:settings:%s", tenantID)
}
