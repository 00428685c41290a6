package model

import "time"

// UnlimitedQuota marks a quota that was never configured for a tenant.
// Callers skip the corresponding check instead of denying everything.
const UnlimitedQuota int64 = -1

// TenantSettings represents the per-tenant admission and quota configuration
type TenantSettings struct {
	TenantID              string
	TenantConnections     int64 // max live connections across all sessions
	ConnectionsPerSession int64 // max live connections in a single session
	TenantPerMinute       int64 // new connections per minute, tenant scope
	SessionPerMinute      int64 // new connections per minute, tenant+session scope
	MessagesPerMinute     int64 // inbound messages per minute, tenant scope
	SessionTTLSeconds     int64 // session idle expiry, refreshed on connect and message
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AuthContext is the authorization result attached to a connection at
// handshake time. Quota fields default to UnlimitedQuota when the tenant
// settings did not configure them.
type AuthContext struct {
	TenantID              string
	SessionID             string
	TenantConnections     int64
	ConnectionsPerSession int64
	TenantPerMinute       int64
	SessionPerMinute      int64
	MessagesPerMinute     int64
	SessionTTLSeconds     int64
}

// NewAuthContext flattens tenant settings into the context carried by the
// transport for the lifetime of a connection.
func NewAuthContext(tenantID, sessionID string, settings *TenantSettings) *AuthContext {
	ctx := &AuthContext{
		TenantID:              tenantID,
		SessionID:             sessionID,
		TenantConnections:     UnlimitedQuota,
		ConnectionsPerSession: UnlimitedQuota,
		TenantPerMinute:       UnlimitedQuota,
		SessionPerMinute:      UnlimitedQuota,
		MessagesPerMinute:     UnlimitedQuota,
		SessionTTLSeconds:     UnlimitedQuota,
	}
	if settings != nil {
		ctx.TenantConnections = settings.TenantConnections
		ctx.ConnectionsPerSession = settings.ConnectionsPerSession
		ctx.TenantPerMinute = settings.TenantPerMinute
		ctx.SessionPerMinute = settings.SessionPerMinute
		ctx.MessagesPerMinute = settings.MessagesPerMinute
		ctx.SessionTTLSeconds = settings.SessionTTLSeconds
	}
	return ctx
}
