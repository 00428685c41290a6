package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/model"
)

// PostgresTenantStore implements TenantStore for PostgreSQL
type PostgresTenantStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresTenantStore creates a new PostgreSQL tenant store
func NewPostgresTenantStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (TenantStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresTenantStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// GetTenant retrieves tenant quota settings
func (s *PostgresTenantStore) GetTenant(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	query := `
		SELECT tenant_id, tenant_connections, connections_per_session,
		       tenant_per_minute, session_per_minute, messages_per_minute,
		       session_ttl_seconds, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`

	var settings model.TenantSettings
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.TenantConnections,
		&settings.ConnectionsPerSession,
		&settings.TenantPerMinute,
		&settings.SessionPerMinute,
		&settings.MessagesPerMinute,
		&settings.SessionTTLSeconds,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &settings, nil
}

// ListTenants returns all tenant settings
func (s *PostgresTenantStore) ListTenants(ctx context.Context) ([]*model.TenantSettings, error) {
	query := `
		SELECT tenant_id, tenant_connections, connections_per_session,
		       tenant_per_minute, session_per_minute, messages_per_minute,
		       session_ttl_seconds, created_at, updated_at
		FROM tenants
		ORDER BY tenant_id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*model.TenantSettings
	for rows.Next() {
		var settings model.TenantSettings
		if err := rows.Scan(
			&settings.TenantID,
			&settings.TenantConnections,
			&settings.ConnectionsPerSession,
			&settings.TenantPerMinute,
			&settings.SessionPerMinute,
			&settings.MessagesPerMinute,
			&settings.SessionTTLSeconds,
			&settings.CreatedAt,
			&settings.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, &settings)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}

	return tenants, nil
}

// CreateTenant creates a new tenant
func (s *PostgresTenantStore) CreateTenant(ctx context.Context, settings *model.TenantSettings) error {
	query := `
		INSERT INTO tenants (tenant_id, tenant_connections, connections_per_session,
		                     tenant_per_minute, session_per_minute, messages_per_minute,
		                     session_ttl_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		settings.TenantID,
		settings.TenantConnections,
		settings.ConnectionsPerSession,
		settings.TenantPerMinute,
		settings.SessionPerMinute,
		settings.MessagesPerMinute,
		settings.SessionTTLSeconds,
		settings.CreatedAt,
		settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// DeleteTenant deletes a tenant
func (s *PostgresTenantStore) DeleteTenant(ctx context.Context, tenantID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresTenantStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresTenantStore) Close() {
	s.pool.Close()
}
