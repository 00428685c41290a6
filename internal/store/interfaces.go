package store

import (
	"context"
	"errors"
	"time"

	"github.com/fanoutlabs/gateway/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// SessionRef identifies one session in the expiry index
type SessionRef struct {
	TenantID  string
	SessionID string
}

// CounterStore is the atomic counter primitive backing the rate limiter
// and the per-tenant live connection count.
type CounterStore interface {
	// Get returns the current count for key, ErrNotFound when absent.
	Get(ctx context.Context, key string) (int64, error)

	// IncrementWithDefault atomically increments key by delta, creating it
	// with a zero default and the given absolute expiry when absent. It
	// returns the post-increment count. Must be a single server-side
	// operation; a read-then-write sequence here reintroduces lost updates.
	IncrementWithDefault(ctx context.Context, key string, delta int64, expiresAt int64) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// SessionStore tracks, per (tenant, session), the live connection-id set
// and the session's absolute expiry. Mutations that touch both the
// connection set and the tenant connection counter commit atomically.
type SessionStore interface {
	// Get is a point-in-time snapshot; ErrNotFound when the session
	// does not exist.
	Get(ctx context.Context, tenantID, sessionID string) (*model.SessionSnapshot, error)

	// Put creates the session or refreshes its expiry.
	Put(ctx context.Context, tenantID, sessionID string, expiresAt int64) error

	// AddConnection adds connectionID to the session set, refreshes the
	// session expiry unconditionally and increments the tenant connection
	// counter, all in one transaction. It returns the connection set as it
	// was before the mutation.
	AddConnection(ctx context.Context, tenantID, sessionID, connectionID string, expiresAt int64) ([]string, error)

	// RemoveConnection removes connectionID from the session set and
	// decrements the tenant connection counter in one transaction. It is a
	// no-op when the id is not a member and never drives the counter
	// below zero.
	RemoveConnection(ctx context.Context, tenantID, sessionID, connectionID string) error

	// RefreshTTL moves the session expiry and returns the connection set
	// captured by the same operation. ErrNotFound when the session is gone.
	RefreshTTL(ctx context.Context, tenantID, sessionID string, expiresAt int64) ([]string, error)

	// Delete removes the session outright, decrements the tenant
	// connection counter by the size of the removed set and returns the
	// prior connection set. ErrNotFound when the session does not exist.
	Delete(ctx context.Context, tenantID, sessionID string) ([]string, error)

	// Expire deletes the session only if its expiry is still at or before
	// cutoff, decrementing the tenant connection counter by the size of
	// the removed set and returning that set. ErrNotFound when the
	// session vanished or was refreshed since it was scanned.
	Expire(ctx context.Context, tenantID, sessionID string, cutoff int64) ([]string, error)

	// DueSessions lists sessions whose expiry is at or before cutoff.
	DueSessions(ctx context.Context, cutoff int64, limit int64) ([]SessionRef, error)

	Ping(ctx context.Context) error
	Close() error
}

// TenantStore holds tenant quota settings
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*model.TenantSettings, error)
	ListTenants(ctx context.Context) ([]*model.TenantSettings, error)
	CreateTenant(ctx context.Context, settings *model.TenantSettings) error
	DeleteTenant(ctx context.Context, tenantID string) error

	Ping(ctx context.Context) error
	Close()
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
